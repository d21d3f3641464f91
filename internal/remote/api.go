package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// ServerInfo fetches the server's version and capability summary.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.call(ctx, "GET", "/api/v1/server/info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Ping reports whether the server is reachable with the configured password.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ServerInfo(ctx)
	return err
}

// ListChats pages through chats with participants and last message embedded.
func (c *Client) ListChats(ctx context.Context, limit, offset int) ([]Chat, error) {
	payload := map[string]any{
		"limit":  limit,
		"offset": offset,
		"with":   []string{"participants", "lastMessage"},
		"sort":   "lastmessage",
	}
	var chats []Chat
	if err := c.call(ctx, "POST", "/api/v1/chat/query", nil, payload, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// ChatMessages returns a chat's most recent messages, newest first, with
// sender handle and attachment metadata embedded.
func (c *Client) ChatMessages(ctx context.Context, chatGUID string, limit, offset int) ([]Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("with", "handle,attachment")
	q.Set("sort", "DESC")
	var msgs []Message
	if err := c.call(ctx, "GET", "/api/v1/chat/"+url.PathEscape(chatGUID)+"/message", q, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendText sends a text message to a chat.
func (c *Client) SendText(ctx context.Context, chatGUID, text string) (*Message, error) {
	payload := c.withMethod(map[string]any{"chatGuid": chatGUID, "message": text})
	var m Message
	if err := c.call(ctx, "POST", "/api/v1/message/text", nil, payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SendAttachment uploads a local file to a chat with an optional caption.
func (c *Client) SendAttachment(ctx context.Context, chatGUID, path, caption string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chatGuid", chatGUID)
	_ = w.WriteField("name", filepath.Base(path))
	if caption != "" {
		_ = w.WriteField("message", caption)
	}
	if c.apiMethod == MethodPrivate {
		_ = w.WriteField("method", "private-api")
	}
	part, err := w.CreateFormFile("attachment", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	data, err := c.do(ctx, "POST", "/api/v1/message/attachment", nil, &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var m Message
	if err := decodeData(data, "POST /api/v1/message/attachment", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateChat starts a conversation with addresses, optionally sending text.
func (c *Client) CreateChat(ctx context.Context, addresses []string, text string) (*Chat, error) {
	payload := map[string]any{"addresses": addresses}
	if text != "" {
		payload["message"] = text
	}
	var chat Chat
	if err := c.call(ctx, "POST", "/api/v1/chat/new", nil, c.withMethod(payload), &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// MarkRead marks a chat as read on the server.
func (c *Client) MarkRead(ctx context.Context, chatGUID string) error {
	return c.call(ctx, "POST", "/api/v1/chat/"+url.PathEscape(chatGUID)+"/read", nil, nil, nil)
}

// SetTyping shows or hides the typing indicator in a chat.
func (c *Client) SetTyping(ctx context.Context, chatGUID string, typing bool) error {
	payload := c.withMethod(map[string]any{"chatGuid": chatGUID, "display": typing})
	return c.call(ctx, "POST", "/api/v1/chat/typing", nil, payload, nil)
}

// React sends a tapback on a message. A removal is sent as "-<name>", or
// an empty reaction when the previous one is unknown.
func (c *Client) React(ctx context.Context, chatGUID, messageGUID, reaction string) (*Message, error) {
	payload := c.withMethod(map[string]any{
		"chatGuid":            chatGUID,
		"selectedMessageGuid": messageGUID,
		"reaction":            reaction,
		"partIndex":           0,
	})
	var m Message
	if err := c.call(ctx, "POST", "/api/v1/message/react", nil, payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Unsend retracts a sent message.
func (c *Client) Unsend(ctx context.Context, messageGUID string) error {
	payload := c.withMethod(map[string]any{"messageGuid": messageGUID})
	return c.call(ctx, "POST", "/api/v1/message/unsend", nil, payload, nil)
}

// Edit replaces the text of a sent message.
func (c *Client) Edit(ctx context.Context, messageGUID, text string) error {
	payload := c.withMethod(map[string]any{"messageGuid": messageGUID, "editedMessage": text})
	return c.call(ctx, "POST", "/api/v1/message/edit", nil, payload, nil)
}

// ContactAvatar returns the decoded avatar of the contact at address, or
// nil when the contact has none.
func (c *Client) ContactAvatar(ctx context.Context, address string) ([]byte, error) {
	var contact Contact
	if err := c.call(ctx, "GET", "/api/v1/contact/"+url.PathEscape(address), nil, nil, &contact); err != nil {
		return nil, err
	}
	if contact.Avatar == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(contact.Avatar)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Op: "GET /api/v1/contact", Err: err}
	}
	return b, nil
}

// ChatIcon returns a group chat's icon bytes.
func (c *Client) ChatIcon(ctx context.Context, chatGUID string) ([]byte, error) {
	return c.do(ctx, "GET", "/api/v1/chat/"+url.PathEscape(chatGUID)+"/icon", nil, nil, "")
}

// AttachmentInfo fetches attachment metadata.
func (c *Client) AttachmentInfo(ctx context.Context, guid string) (*AttachmentInfo, error) {
	var info AttachmentInfo
	if err := c.call(ctx, "GET", "/api/v1/attachment/"+url.PathEscape(guid), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DownloadAttachment returns an attachment's raw bytes.
func (c *Client) DownloadAttachment(ctx context.Context, guid string) ([]byte, error) {
	return c.do(ctx, "GET", "/api/v1/attachment/"+url.PathEscape(guid)+"/download", nil, nil, "")
}

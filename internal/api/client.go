package api

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the control service of a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) callEmpty(ctx context.Context, method string) (map[string]any, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod(method), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.callEmpty(ctx, MethodStatus)
}

func (c *Client) SyncNow(ctx context.Context) (map[string]any, error) {
	return c.callEmpty(ctx, MethodSyncNow)
}

func (c *Client) ListChats(ctx context.Context, limit, offset int) (map[string]any, error) {
	return c.call(ctx, MethodListChats, map[string]any{"limit": limit, "offset": offset})
}

func (c *Client) ListThread(ctx context.Context, chatGUID string, limit int, refresh bool) (map[string]any, error) {
	return c.call(ctx, MethodListThread, map[string]any{"chat_guid": chatGUID, "limit": limit, "refresh": refresh})
}

// SendText sends text to a chat. A non-empty attachment path sends that
// file with text as the caption.
func (c *Client) SendText(ctx context.Context, chatGUID, text, attachment string) (map[string]any, error) {
	return c.call(ctx, MethodSendText, map[string]any{"chat_guid": chatGUID, "text": text, "attachment": attachment})
}

func (c *Client) MarkRead(ctx context.Context, chatGUID string) (map[string]any, error) {
	return c.call(ctx, MethodMarkRead, map[string]any{"chat_guid": chatGUID})
}

// React sends reaction on a message, or removes the current one when remove is set.
func (c *Client) React(ctx context.Context, chatGUID, messageGUID, reaction string, remove bool) (map[string]any, error) {
	return c.call(ctx, MethodReact, map[string]any{
		"chat_guid":    chatGUID,
		"message_guid": messageGUID,
		"reaction":     reaction,
		"remove":       remove,
	})
}

func (c *Client) ClearCache(ctx context.Context, records bool) (map[string]any, error) {
	return c.call(ctx, MethodClearCache, map[string]any{"records": records})
}

// Avatar returns the image bytes shown for a chat.
func (c *Client) Avatar(ctx context.Context, chatGUID string, size int) ([]byte, error) {
	in, err := structpb.NewStruct(map[string]any{"chat_guid": chatGUID, "size": size})
	if err != nil {
		return nil, err
	}
	out := &wrapperspb.BytesValue{}
	if err := c.conn.Invoke(ctx, FullMethod(MethodAvatar), in, out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// Attachment returns an attachment's content and its metadata fields.
func (c *Client) Attachment(ctx context.Context, guid string) ([]byte, map[string]any, error) {
	out, err := c.call(ctx, MethodAttachment, map[string]any{"guid": guid})
	if err != nil {
		return nil, nil, err
	}
	encoded, _ := out["data"].(string)
	delete(out, "data")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("decode attachment: %w", err)
	}
	return data, out, nil
}

// Package remote is the REST collaborator for a BlueBubbles server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API methods a server deployment may be configured with.
const (
	MethodAppleScript = "applescript"
	MethodPrivate     = "private"
)

const DefaultTimeout = 15 * time.Second

// Client talks to one server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	password   string
	apiMethod  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIMethod selects the write path. MethodPrivate adds
// method=private-api to every write payload.
func WithAPIMethod(method string) Option {
	return func(c *Client) { c.apiMethod = method }
}

// WithTimeout bounds each request, including reading the body.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		password:   password,
		apiMethod:  MethodAppleScript,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) url(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("password", c.password)
	return c.baseURL + path + "?" + query.Encode()
}

// withMethod copies a write payload and tags it for the private API.
func (c *Client) withMethod(payload map[string]any) map[string]any {
	if c.apiMethod != MethodPrivate {
		return payload
	}
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["method"] = "private-api"
	return out
}

// do sends a request and returns the raw response body on 2xx.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	op := method + " " + path
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Kind: KindStatus, Op: op, Status: resp.StatusCode}
		var env envelope
		if json.Unmarshal(data, &env) == nil {
			e.Message = env.Message
			if env.Error != nil && env.Error.Message != "" {
				e.Message = env.Error.Message
			}
		}
		return nil, e
	}
	return data, nil
}

// call sends a JSON request and decodes the envelope's data into out.
// out may be nil when the result is not needed.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	data, err := c.do(ctx, method, path, query, body, contentType)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeData(data, method+" "+path, out)
}

// decodeData unwraps the response envelope into out. A null or missing
// data field leaves out untouched.
func decodeData(data []byte, op string, out any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &Error{Kind: KindDecode, Op: op, Err: err}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Kind: KindDecode, Op: op, Err: err}
	}
	return nil
}

// ABOUTME: HTTP client for the parley API used by terminal and embedded client sessions
// ABOUTME: Wraps history, send, inbox, read and search calls plus SSE channel subscriptions

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/parley/internal/bus"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/search"
	"github.com/2389/parley/internal/store"
)

// Error classes for non-2xx responses; test with errors.Is.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrServer       = errors.New("server error")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("parley API error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap classifies the error by status code.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

// APIClient communicates with the parley HTTP API.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
	stream  *bus.RemoteBus
}

// NewAPIClient creates a client for baseURL. token is an operator session
// token; leave it empty to act as a visitor.
func NewAPIClient(baseURL, token string) *APIClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{},
		stream:  bus.NewRemoteBus(bus.RemoteConfig{BaseURL: baseURL}),
	}
}

// History returns the messages exchanged by a and b, oldest first.
func (c *APIClient) History(ctx context.Context, a, b string) ([]*store.Message, error) {
	q := url.Values{"senderId": {a}, "receiverId": {b}}
	var msgs []*store.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send posts one message and returns the stored record.
func (c *APIClient) Send(ctx context.Context, req conversation.SendRequest) (*store.Message, error) {
	var msg store.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Conversations returns the operator inbox. Requires an operator token.
func (c *APIClient) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	var convs []conversation.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// MarkRead marks everything counterpartID sent the operator as read.
func (c *APIClient) MarkRead(ctx context.Context, counterpartID string) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	path := "/api/conversations/" + url.PathEscape(counterpartID) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// Search runs a full-text query. Requires an operator token.
func (c *APIClient) Search(ctx context.Context, query string, limit int) ([]search.Hit, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var hits []search.Hit
	if err := c.do(ctx, http.MethodGet, "/api/search?"+q.Encode(), nil, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// Health checks the liveness endpoint.
func (c *APIClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Subscribe opens an SSE stream on channel. The subscription is live when it returns.
func (c *APIClient) Subscribe(ctx context.Context, channel string) (*bus.Subscription, error) {
	return c.stream.Subscribe(ctx, channel)
}

// do sends a request and decodes a JSON response into out (when non-nil).
func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse extracts the error message from a non-2xx response.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// Package backend is the HTTP client for the conversational backend API.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RelayErrorKind classifies a failed relay attempt. Each kind maps to a
// distinct user-facing fallback message.
type RelayErrorKind string

const (
	ErrBackendRejected RelayErrorKind = "backend_rejected"
	ErrEmptyReply      RelayErrorKind = "empty_reply"
	ErrTimeout         RelayErrorKind = "timeout"
	ErrUnreachable     RelayErrorKind = "unreachable"
)

// RelayError wraps a failure from the process-message call.
type RelayError struct {
	Kind RelayErrorKind
	err  error
}

func (e *RelayError) Error() string {
	if e.err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *RelayError) Unwrap() error { return e.err }

// ThreadInfo describes a conversation thread on the backend.
type ThreadInfo struct {
	ThreadID        string
	LastMessageTime time.Time
}

// HistoryEntry is one prior message in a thread.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the conversational backend surface the relay needs.
type Client interface {
	RegisterUser(ctx context.Context, phone, language string) error
	UserExists(ctx context.Context, phone string) (bool, error)
	UpdateLocation(ctx context.Context, phone string, lat, long float64) error
	CreateThread(ctx context.Context, phone, title string) (string, error)
	LastThread(ctx context.Context, phone string) (*ThreadInfo, error)
	ThreadHistory(ctx context.Context, phone, threadID string) ([]HistoryEntry, error)
	// ProcessMessage streams the reply and returns the full aggregated
	// text. Failures come back as *RelayError.
	ProcessMessage(ctx context.Context, phone, threadID, text string) (string, error)
}

// flexibleID unmarshals a JSON string or number into a string, since the
// backend has returned both for thread IDs.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// HTTPClient talks to the backend over its WhatsApp-scoped v2 API.
// Unary calls use a bounded client; the streaming process-message call
// uses an unbounded one and relies on the caller's context deadline.
type HTTPClient struct {
	baseURL func() string
	unary   *http.Client
	stream  *http.Client
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithUnaryTimeout overrides the default 30s timeout on unary calls.
func WithUnaryTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.unary.Timeout = d }
}

// WithTransport replaces the underlying transport on both clients.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *HTTPClient) {
		c.unary.Transport = rt
		c.stream.Transport = rt
	}
}

// WithBaseURLFunc reads the base URL per request instead of the fixed
// one, so a config reload takes effect without restarting.
func WithBaseURLFunc(fn func() string) Option {
	return func(c *HTTPClient) { c.baseURL = fn }
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: func() string { return baseURL },
		unary:   &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) endpoint(path string) string {
	return strings.TrimRight(c.baseURL(), "/") + "/api/v2/whatsapp" + path
}

// postJSON sends a JSON body and decodes the JSON response into out (nil
// to discard).
func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.endpoint(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.unary.Do(req)
	if err != nil {
		return fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) RegisterUser(ctx context.Context, phone, language string) error {
	return c.postJSON(ctx, "/users/register", map[string]string{
		"phone_num":          phone,
		"preferred_language": language,
	}, nil)
}

func (c *HTTPClient) UserExists(ctx context.Context, phone string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	q := url.Values{"phone_num": {phone}}
	if err := c.getJSON(ctx, "/users/exists", q, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *HTTPClient) UpdateLocation(ctx context.Context, phone string, lat, long float64) error {
	return c.postJSON(ctx, "/users/location", map[string]any{
		"phone_num": phone,
		"lat":       lat,
		"long":      long,
	}, nil)
}

func (c *HTTPClient) CreateThread(ctx context.Context, phone, title string) (string, error) {
	var out struct {
		ThreadID flexibleID `json:"thread_id"`
	}
	err := c.postJSON(ctx, "/threads", map[string]string{
		"phone_num": phone,
		"title":     title,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ThreadID == "" {
		return "", errors.New("backend created thread without an id")
	}
	return string(out.ThreadID), nil
}

func (c *HTTPClient) LastThread(ctx context.Context, phone string) (*ThreadInfo, error) {
	var out struct {
		ThreadID        flexibleID `json:"thread_id"`
		LastMessageTime string     `json:"last_message_time"`
	}
	q := url.Values{"phone_num": {phone}}
	if err := c.getJSON(ctx, "/threads/last", q, &out); err != nil {
		return nil, err
	}
	if out.ThreadID == "" {
		return nil, nil
	}
	info := &ThreadInfo{ThreadID: string(out.ThreadID)}
	if out.LastMessageTime != "" {
		t, err := parseBackendTime(out.LastMessageTime)
		if err != nil {
			return nil, fmt.Errorf("parse last_message_time: %w", err)
		}
		info.LastMessageTime = t
	}
	return info, nil
}

// parseBackendTime accepts the timestamp layouts the backend has emitted.
func parseBackendTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (c *HTTPClient) ThreadHistory(ctx context.Context, phone, threadID string) ([]HistoryEntry, error) {
	var out struct {
		Messages []HistoryEntry `json:"messages"`
	}
	q := url.Values{"phone_num": {phone}}
	if err := c.getJSON(ctx, "/threads/"+url.PathEscape(threadID)+"/history", q, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// ProcessMessage posts the user's text and consumes the streamed reply,
// returning the aggregated text. The caller's context deadline is the
// only bound; timeouts and transport failures are classified into
// *RelayError kinds.
func (c *HTTPClient) ProcessMessage(ctx context.Context, phone, threadID, text string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"phone_num": phone,
		"thread_id": threadID,
		"message":   text,
	})
	if err != nil {
		return "", &RelayError{Kind: ErrUnreachable, err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/messages/process"), bytes.NewReader(body))
	if err != nil {
		return "", &RelayError{Kind: ErrUnreachable, err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.stream.Do(req)
	if err != nil {
		return "", &RelayError{Kind: classifyTransport(ctx, err), err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &RelayError{
			Kind: ErrBackendRejected,
			err:  fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	var reply strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		reply.WriteString(scanner.Text())
		reply.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		// A partial reply is unusable: the user would get a cut-off answer.
		return "", &RelayError{Kind: classifyTransport(ctx, err), err: err}
	}

	out := strings.TrimSpace(reply.String())
	if out == "" {
		return "", &RelayError{Kind: ErrEmptyReply}
	}
	return out, nil
}

func classifyTransport(ctx context.Context, err error) RelayErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrUnreachable
}

// Package meta sends messages through the Meta WhatsApp Cloud API.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/warelay/internal/config"
)

// Sender delivers outbound messages to a WhatsApp user.
type Sender interface {
	// SendText delivers the text, splitting it into multiple messages
	// when it exceeds WhatsApp's length limit. Parts are sent in order;
	// the first failure aborts the rest.
	SendText(ctx context.Context, to, text string) error
	// SendTyping marks the message read and shows a typing indicator.
	SendTyping(ctx context.Context, messageID string) error
}

// Client is the Graph API sender. Outbound calls share a rate limiter so
// bursts of split messages stay inside Meta's per-number throughput.
type Client struct {
	cfg     *config.Store
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func NewClient(cfg *config.Store, opts ...ClientOption) *Client {
	rps := cfg.Current().Meta.SendRate
	if rps <= 0 {
		rps = 10
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type textPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type typingPayload struct {
	MessagingProduct string          `json:"messaging_product"`
	Status           string          `json:"status"`
	MessageID        string          `json:"message_id"`
	TypingIndicator  typingIndicator `json:"typing_indicator"`
}

type typingIndicator struct {
	Type string `json:"type"`
}

func (c *Client) SendText(ctx context.Context, to, text string) error {
	parts := SplitMessage(text)
	for i, part := range parts {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		payload := textPayload{
			MessagingProduct: "whatsapp",
			To:               to,
			Text:             textBody{Body: part},
		}
		if err := c.post(ctx, payload); err != nil {
			return fmt.Errorf("send part %d/%d: %w", i+1, len(parts), err)
		}
	}
	if len(parts) > 1 {
		slog.Debug("sent split message", "to", to, "parts", len(parts))
	}
	return nil
}

func (c *Client) SendTyping(ctx context.Context, messageID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.post(ctx, typingPayload{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
		TypingIndicator:  typingIndicator{Type: "text"},
	})
}

func (c *Client) post(ctx context.Context, payload any) error {
	meta := c.cfg.Current().Meta
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.MessagesURL(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+meta.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// MockSender logs outbound messages instead of calling Meta. Useful when
// developing against the backend without WhatsApp credentials.
type MockSender struct{}

func (MockSender) SendText(ctx context.Context, to, text string) error {
	for _, part := range SplitMessage(text) {
		slog.Info("mock send", "to", to, "chars", len(part), "text", truncate(part, 120))
	}
	return nil
}

func (MockSender) SendTyping(ctx context.Context, messageID string) error {
	slog.Debug("mock typing indicator", "message_id", messageID)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/warelay/internal/config"
)

type graphCall struct {
	auth    string
	payload map[string]any
}

func newGraphTestServer(t *testing.T) (*httptest.Server, func() []graphCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []graphCall

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		calls = append(calls, graphCall{auth: r.Header.Get("Authorization"), payload: payload})
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []graphCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]graphCall(nil), calls...)
	}
}

func newGraphClient(srvURL string) *Client {
	cfg := config.Default()
	cfg.Meta.GraphBaseURL = srvURL
	cfg.Meta.PhoneNumberID = "12345"
	cfg.Meta.AccessToken = "tok-abc"
	cfg.Meta.SendRate = 1000 // keep tests fast
	return NewClient(config.NewStore(cfg))
}

func TestSendText(t *testing.T) {
	srv, calls := newGraphTestServer(t)
	c := newGraphClient(srv.URL)

	if err := c.SendText(context.Background(), "15551234567", "hello there"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	got := calls()
	if len(got) != 1 {
		t.Fatalf("got %d calls, want 1", len(got))
	}
	if got[0].auth != "Bearer tok-abc" {
		t.Errorf("auth = %q", got[0].auth)
	}
	p := got[0].payload
	if p["messaging_product"] != "whatsapp" || p["to"] != "15551234567" {
		t.Errorf("payload = %v", p)
	}
	text, _ := p["text"].(map[string]any)
	if text["body"] != "hello there" {
		t.Errorf("text = %v", text)
	}
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	srv, calls := newGraphTestServer(t)
	c := newGraphClient(srv.URL)

	long := strings.Repeat("paragraph one. ", 200) + "\n\n" + strings.Repeat("paragraph two. ", 200)
	if err := c.SendText(context.Background(), "1", long); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	got := calls()
	if len(got) < 2 {
		t.Fatalf("got %d calls, want split into multiple", len(got))
	}
	// Parts arrive in order.
	first, _ := got[0].payload["text"].(map[string]any)
	if body, _ := first["body"].(string); !strings.HasPrefix(body, "paragraph one.") {
		t.Errorf("first part = %.30q", body)
	}
}

func TestSendTyping(t *testing.T) {
	srv, calls := newGraphTestServer(t)
	c := newGraphClient(srv.URL)

	if err := c.SendTyping(context.Background(), "wamid.42"); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}

	got := calls()
	if len(got) != 1 {
		t.Fatalf("got %d calls, want 1", len(got))
	}
	p := got[0].payload
	if p["status"] != "read" || p["message_id"] != "wamid.42" {
		t.Errorf("payload = %v", p)
	}
	ti, _ := p["typing_indicator"].(map[string]any)
	if ti["type"] != "text" {
		t.Errorf("typing_indicator = %v", ti)
	}
}

func TestSendTextGraphError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "bad token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newGraphClient(srv.URL)
	err := c.SendText(context.Background(), "1", "hi")
	if err == nil {
		t.Fatal("expected error on 401")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v", err)
	}
}

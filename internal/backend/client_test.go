package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestUserLifecycleCalls(t *testing.T) {
	var gotPath, gotQuery string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&gotBody)
		}
		switch r.URL.Path {
		case "/api/v2/whatsapp/users/exists":
			fmt.Fprint(w, `{"exists": true}`)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	ctx := context.Background()

	if err := c.RegisterUser(ctx, "15551234567", "en"); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if gotPath != "/api/v2/whatsapp/users/register" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["phone_num"] != "15551234567" || gotBody["preferred_language"] != "en" {
		t.Errorf("body = %v", gotBody)
	}

	exists, err := c.UserExists(ctx, "15551234567")
	if err != nil {
		t.Fatalf("UserExists: %v", err)
	}
	if !exists {
		t.Error("exists = false")
	}
	if gotQuery != "phone_num=15551234567" {
		t.Errorf("query = %q", gotQuery)
	}

	if err := c.UpdateLocation(ctx, "15551234567", 21.42, 39.83); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if gotPath != "/api/v2/whatsapp/users/location" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["lat"] != 21.42 || gotBody["long"] != 39.83 {
		t.Errorf("body = %v", gotBody)
	}
}

func TestCreateThreadFlexibleID(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want string
	}{
		{"string id", `{"thread_id": "t-123"}`, "t-123"},
		{"numeric id", `{"thread_id": 456}`, "456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.resp)
			}))
			defer srv.Close()

			id, err := NewHTTPClient(srv.URL).CreateThread(context.Background(), "1", "title")
			if err != nil {
				t.Fatalf("CreateThread: %v", err)
			}
			if id != tt.want {
				t.Errorf("id = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestLastThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"thread_id": "t-9", "last_message_time": "2026-08-30T12:00:00Z"}`)
	}))
	defer srv.Close()

	info, err := NewHTTPClient(srv.URL).LastThread(context.Background(), "1")
	if err != nil {
		t.Fatalf("LastThread: %v", err)
	}
	if info == nil || info.ThreadID != "t-9" {
		t.Fatalf("info = %+v", info)
	}
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if !info.LastMessageTime.Equal(want) {
		t.Errorf("LastMessageTime = %v", info.LastMessageTime)
	}
}

func TestLastThreadNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	info, err := NewHTTPClient(srv.URL).LastThread(context.Background(), "1")
	if err != nil {
		t.Fatalf("LastThread: %v", err)
	}
	if info != nil {
		t.Errorf("info = %+v, want nil when no thread exists", info)
	}
}

func TestBaseURLReadPerRequest(t *testing.T) {
	newBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"exists": true}`)
	}))
	defer newBackend.Close()

	oldBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request went to the old backend")
	}))
	defer oldBackend.Close()

	liveURL := oldBackend.URL
	c := NewHTTPClient(oldBackend.URL, WithBaseURLFunc(func() string { return liveURL }))

	// Simulate a config reload swapping the backend before the call.
	liveURL = newBackend.URL
	exists, err := c.UserExists(context.Background(), "1")
	if err != nil {
		t.Fatalf("UserExists: %v", err)
	}
	if !exists {
		t.Error("exists = false")
	}
}

func TestThreadHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/whatsapp/threads/t-7/history" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"messages": [
			{"role": "user", "content": "salam"},
			{"role": "assistant", "content": "wa alaikum assalam"}
		]}`)
	}))
	defer srv.Close()

	msgs, err := NewHTTPClient(srv.URL).ThreadHistory(context.Background(), "1", "t-7")
	if err != nil {
		t.Fatalf("ThreadHistory: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Content != "wa alaikum assalam" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestProcessMessageStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"first chunk", "second chunk", "third chunk"} {
			fmt.Fprintln(w, chunk)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	reply, err := NewHTTPClient(srv.URL).ProcessMessage(context.Background(), "1", "t-1", "question")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	want := "first chunk\nsecond chunk\nthird chunk"
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
}

func TestProcessMessageErrorKinds(t *testing.T) {
	t.Run("backend rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL).ProcessMessage(context.Background(), "1", "t", "q")
		assertRelayKind(t, err, ErrBackendRejected)
	})

	t.Run("empty reply", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "  \n ")
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL).ProcessMessage(context.Background(), "1", "t", "q")
		assertRelayKind(t, err, ErrEmptyReply)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Drain the body so the server can watch for the client
			// disconnect; otherwise r.Context() is never cancelled and
			// srv.Close deadlocks.
			io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := NewHTTPClient(srv.URL).ProcessMessage(ctx, "1", "t", "q")
		assertRelayKind(t, err, ErrTimeout)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := NewHTTPClient("http://127.0.0.1:1").ProcessMessage(context.Background(), "1", "t", "q")
		assertRelayKind(t, err, ErrUnreachable)
	})
}

func assertRelayKind(t *testing.T, err error, want RelayErrorKind) {
	t.Helper()
	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("err = %v, want *RelayError", err)
	}
	if relayErr.Kind != want {
		t.Errorf("Kind = %q, want %q", relayErr.Kind, want)
	}
}

func TestUnaryNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).UserExists(context.Background(), "1")
	if err == nil {
		t.Fatal("expected error on 404")
	}
}

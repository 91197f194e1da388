package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient is an in-memory backend for local development. It registers
// users, hands out thread IDs and echoes a canned reply.
type MockClient struct {
	mu      sync.Mutex
	users   map[string]bool
	threads map[string]*ThreadInfo // phone -> last thread
	history map[string][]HistoryEntry
}

func NewMockClient() *MockClient {
	return &MockClient{
		users:   make(map[string]bool),
		threads: make(map[string]*ThreadInfo),
		history: make(map[string][]HistoryEntry),
	}
}

func (m *MockClient) RegisterUser(ctx context.Context, phone, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[phone] = true
	slog.Debug("mock backend: registered user", "phone", phone, "language", language)
	return nil
}

func (m *MockClient) UserExists(ctx context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[phone], nil
}

func (m *MockClient) UpdateLocation(ctx context.Context, phone string, lat, long float64) error {
	slog.Debug("mock backend: location updated", "phone", phone, "lat", lat, "long", long)
	return nil
}

func (m *MockClient) CreateThread(ctx context.Context, phone, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.threads[phone] = &ThreadInfo{ThreadID: id, LastMessageTime: time.Now()}
	slog.Debug("mock backend: thread created", "phone", phone, "thread_id", id, "title", title)
	return id, nil
}

func (m *MockClient) LastThread(ctx context.Context, phone string) (*ThreadInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[phone]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (m *MockClient) ThreadHistory(ctx context.Context, phone, threadID string) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.history[threadID]...), nil
}

func (m *MockClient) ProcessMessage(ctx context.Context, phone, threadID, text string) (string, error) {
	m.mu.Lock()
	if t, ok := m.threads[phone]; ok {
		t.LastMessageTime = time.Now()
	}
	reply := fmt.Sprintf("Mock reply to: %s", text)
	m.history[threadID] = append(m.history[threadID],
		HistoryEntry{Role: "user", Content: text},
		HistoryEntry{Role: "assistant", Content: reply},
	)
	m.mu.Unlock()
	slog.Debug("mock backend: processed message", "phone", phone, "thread_id", threadID)
	return reply, nil
}

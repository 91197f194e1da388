package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Config is the root configuration for the warelay gateway.
type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Meta      MetaConfig      `json:"meta"`
	Server    ServerConfig    `json:"server"`
	Chat      ChatConfig      `json:"chat"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// BackendConfig points at the conversational backend API.
type BackendConfig struct {
	BaseURL string `json:"base_url"`
	// RelayTimeoutSeconds bounds a single streaming process-message call.
	RelayTimeoutSeconds int `json:"relay_timeout_seconds,omitempty"`
	// Mock replaces the HTTP client with an in-memory fake for local dev.
	Mock bool `json:"mock,omitempty"`
}

// MetaConfig configures the Meta WhatsApp Cloud API.
// Credentials are never read from the config file, only from env vars.
type MetaConfig struct {
	APIVersion string `json:"api_version,omitempty"` // Graph API version (default "v22.0")
	// GraphBaseURL overrides the Graph API host (tests / local mocks).
	GraphBaseURL  string  `json:"graph_base_url,omitempty"`
	PhoneNumberID string  `json:"-"` // from env WARELAY_META_PHONE_NUMBER_ID only
	AccessToken   string  `json:"-"` // from env WARELAY_META_ACCESS_TOKEN only
	VerifyToken   string  `json:"-"` // from env WARELAY_META_VERIFY_TOKEN only
	SendRate      float64 `json:"send_rate,omitempty"` // outbound Graph calls per second
	Mock          bool    `json:"mock,omitempty"`      // log sends instead of calling Meta
}

// MessagesURL returns the Graph API endpoint for sending messages:
// https://graph.facebook.com/{version}/{phone-number-id}/messages
func (m MetaConfig) MessagesURL() string {
	base := m.GraphBaseURL
	if base == "" {
		base = "https://graph.facebook.com"
	}
	return fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(base, "/"), m.APIVersion, m.PhoneNumberID)
}

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// Deployment is "local", "staging" or "production".
	Deployment string `json:"deployment"`
}

// ChatConfig holds the admission and conversation policy knobs.
type ChatConfig struct {
	Maintenance bool `json:"maintenance,omitempty"`
	// MessageAgeThresholdSeconds: webhook deliveries older than this are stale.
	MessageAgeThresholdSeconds int `json:"message_age_threshold_seconds,omitempty"`
	// StalePolicy is "drop" (default) or "notify".
	StalePolicy string `json:"stale_policy,omitempty"`
	// RetentionHours: a thread is reused while its last message is younger than this.
	RetentionHours int `json:"retention_hours,omitempty"`
	// DedupWindowSeconds: how long a (sender, message) pair suppresses re-delivery.
	// Must exceed Meta's webhook retry interval.
	DedupWindowSeconds int `json:"dedup_window_seconds,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext export for local dev
	ServiceName string            `json:"service_name,omitempty"` // default "warelay"
	Headers     map[string]string `json:"headers,omitempty"`      // e.g. auth tokens for cloud backends
}

// RelayTimeout returns the bound on a single backend relay call.
func (b BackendConfig) RelayTimeout() time.Duration {
	return time.Duration(b.RelayTimeoutSeconds) * time.Second
}

// MessageAgeThreshold returns the staleness cutoff for inbound messages.
func (c ChatConfig) MessageAgeThreshold() time.Duration {
	return time.Duration(c.MessageAgeThresholdSeconds) * time.Second
}

// RetentionPeriod returns how long an existing thread stays active.
func (c ChatConfig) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// DedupWindow returns the duplicate-delivery suppression window.
func (c ChatConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// Validate checks that required settings are present for the chosen mode.
func (c *Config) Validate() error {
	switch c.Server.Deployment {
	case "local", "staging", "production":
	default:
		return fmt.Errorf("server.deployment must be local, staging or production (got %q)", c.Server.Deployment)
	}
	if !c.Backend.Mock && c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required (or set backend.mock)")
	}
	if !c.Meta.Mock {
		if c.Meta.PhoneNumberID == "" {
			return fmt.Errorf("WARELAY_META_PHONE_NUMBER_ID is required (or set meta.mock)")
		}
		if c.Meta.AccessToken == "" {
			return fmt.Errorf("WARELAY_META_ACCESS_TOKEN is required (or set meta.mock)")
		}
	}
	if c.Meta.VerifyToken == "" {
		return fmt.Errorf("WARELAY_META_VERIFY_TOKEN is required")
	}
	return nil
}

// Store holds the live configuration and supports atomic replacement,
// so the file watcher can flip runtime policy (maintenance, staleness)
// without restarting the process. Components keep a *Store and read
// Current() per request, so there is no ambient global state.
type Store struct {
	v atomic.Pointer[Config]
}

// NewStore wraps an initial config.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.v.Store(cfg)
	return s
}

// Current returns the live config snapshot.
func (s *Store) Current() *Config { return s.v.Load() }

// Replace swaps in a reloaded config.
func (s *Store) Replace(cfg *Config) { s.v.Store(cfg) }

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validTestConfig() *Config {
	cfg := Default()
	cfg.Backend.BaseURL = "http://localhost:8000"
	cfg.Meta.PhoneNumberID = "12345"
	cfg.Meta.AccessToken = "tok"
	cfg.Meta.VerifyToken = "vt"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Backend.RelayTimeout() != 60*time.Second {
		t.Errorf("RelayTimeout = %v", cfg.Backend.RelayTimeout())
	}
	if cfg.Chat.MessageAgeThreshold() != 5*time.Minute {
		t.Errorf("MessageAgeThreshold = %v", cfg.Chat.MessageAgeThreshold())
	}
	if cfg.Chat.RetentionPeriod() != 3*time.Hour {
		t.Errorf("RetentionPeriod = %v", cfg.Chat.RetentionPeriod())
	}
	if cfg.Chat.StalePolicy != "drop" {
		t.Errorf("StalePolicy = %q", cfg.Chat.StalePolicy)
	}
	if cfg.Server.Port != 8001 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8001 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// comments are allowed
		backend: { base_url: "http://backend:8000" },
		server: { port: 9000, deployment: "production" },
		chat: { retention_hours: 6 },
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend:8000" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Deployment != "production" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Chat.RetentionHours != 6 {
		t.Errorf("RetentionHours = %d", cfg.Chat.RetentionHours)
	}
	// Untouched fields keep defaults.
	if cfg.Meta.APIVersion != "v22.0" {
		t.Errorf("APIVersion = %q", cfg.Meta.APIVersion)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WARELAY_BACKEND_URL", "http://env-backend:8000")
	t.Setenv("WARELAY_META_PHONE_NUMBER_ID", "67890")
	t.Setenv("WARELAY_META_ACCESS_TOKEN", "env-tok")
	t.Setenv("WARELAY_META_VERIFY_TOKEN", "env-vt")
	t.Setenv("WARELAY_PORT", "7070")
	t.Setenv("WARELAY_MAINTENANCE", "true")
	t.Setenv("WARELAY_STALE_POLICY", "notify")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://env-backend:8000" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Meta.PhoneNumberID != "67890" || cfg.Meta.AccessToken != "env-tok" || cfg.Meta.VerifyToken != "env-vt" {
		t.Errorf("Meta = %+v", cfg.Meta)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if !cfg.Chat.Maintenance || cfg.Chat.StalePolicy != "notify" {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", nil, false},
		{"bad deployment", func(c *Config) { c.Server.Deployment = "prod" }, true},
		{"no backend url", func(c *Config) { c.Backend.BaseURL = "" }, true},
		{"mock backend skips url", func(c *Config) { c.Backend.BaseURL = ""; c.Backend.Mock = true }, false},
		{"no phone id", func(c *Config) { c.Meta.PhoneNumberID = "" }, true},
		{"no access token", func(c *Config) { c.Meta.AccessToken = "" }, true},
		{"mock meta skips credentials", func(c *Config) { c.Meta.PhoneNumberID = ""; c.Meta.AccessToken = ""; c.Meta.Mock = true }, false},
		{"verify token always required", func(c *Config) { c.Meta.VerifyToken = ""; c.Meta.Mock = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStoreReplace(t *testing.T) {
	store := NewStore(Default())
	if store.Current().Chat.Maintenance {
		t.Fatal("unexpected maintenance default")
	}

	next := Default()
	next.Chat.Maintenance = true
	store.Replace(next)
	if !store.Current().Chat.Maintenance {
		t.Error("Replace did not take effect")
	}
}

func TestMessagesURL(t *testing.T) {
	m := MetaConfig{APIVersion: "v22.0", PhoneNumberID: "12345"}
	want := "https://graph.facebook.com/v22.0/12345/messages"
	if got := m.MessagesURL(); got != want {
		t.Errorf("MessagesURL = %q, want %q", got, want)
	}

	m.GraphBaseURL = "http://localhost:9999/"
	want = "http://localhost:9999/v22.0/12345/messages"
	if got := m.MessagesURL(); got != want {
		t.Errorf("MessagesURL = %q, want %q", got, want)
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			RelayTimeoutSeconds: 60,
		},
		Meta: MetaConfig{
			APIVersion: "v22.0",
			SendRate:   10,
		},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8001,
			Deployment: "local",
		},
		Chat: ChatConfig{
			MessageAgeThresholdSeconds: 300,
			StalePolicy:                "drop",
			RetentionHours:             3,
			DedupWindowSeconds:         600,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: env vars alone can configure the service.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("WARELAY_BACKEND_URL", &c.Backend.BaseURL)
	envInt("WARELAY_RELAY_TIMEOUT_SECONDS", &c.Backend.RelayTimeoutSeconds)
	envBool("WARELAY_MOCK_BACKEND", &c.Backend.Mock)

	// Meta credentials come from env only.
	envStr("WARELAY_META_API_VERSION", &c.Meta.APIVersion)
	envStr("WARELAY_META_GRAPH_BASE_URL", &c.Meta.GraphBaseURL)
	envStr("WARELAY_META_PHONE_NUMBER_ID", &c.Meta.PhoneNumberID)
	envStr("WARELAY_META_ACCESS_TOKEN", &c.Meta.AccessToken)
	envStr("WARELAY_META_VERIFY_TOKEN", &c.Meta.VerifyToken)
	envBool("WARELAY_MOCK_META", &c.Meta.Mock)

	envStr("WARELAY_HOST", &c.Server.Host)
	envInt("WARELAY_PORT", &c.Server.Port)
	envStr("WARELAY_DEPLOYMENT", &c.Server.Deployment)
	if v := os.Getenv("WARELAY_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		c.Server.AllowedOrigins = origins
	}

	envBool("WARELAY_MAINTENANCE", &c.Chat.Maintenance)
	envInt("WARELAY_MESSAGE_AGE_THRESHOLD_SECONDS", &c.Chat.MessageAgeThresholdSeconds)
	envStr("WARELAY_STALE_POLICY", &c.Chat.StalePolicy)
	envInt("WARELAY_RETENTION_HOURS", &c.Chat.RetentionHours)
	envInt("WARELAY_DEDUP_WINDOW_SECONDS", &c.Chat.DedupWindowSeconds)

	// Telemetry
	envStr("WARELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("WARELAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("WARELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("WARELAY_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("WARELAY_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

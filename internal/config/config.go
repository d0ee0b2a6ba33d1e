package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Auth modes for reaching the persona server.
const (
	// AuthModeAPIKey connects directly with a deployment API key.
	AuthModeAPIKey = 0
	// AuthModeTokenIssuer fetches a short-lived JWT (and server URL) from a
	// token-issuing endpoint before connecting.
	AuthModeTokenIssuer = 1
)

// Config contains all runtime settings for the aura gateway.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Persona server connection.
	AuthMode          int
	APIKey            string
	TokenIssuerURL    string
	PersonaServerURL  string
	PersonaID         string
	OrchestrationMode bool

	ConnectMaxRetries int
	ConnectRetryDelay time.Duration
	KeepAliveInterval time.Duration
	DisconnectGrace   time.Duration

	// Verbose protocol logging is opt-in; the stream is very chatty.
	VerboseProtocolLog bool

	// PrefsDir overrides the preference cache location (tests mainly).
	PrefsDir string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "aura"),
		APIKey:            stringsTrimSpace("AURA_API_KEY"),
		TokenIssuerURL:    stringsTrimSpace("AURA_TOKEN_URL"),
		PersonaServerURL:  stringsTrimSpace("AURA_SERVER_URL"),
		PersonaID:         envOrDefault("AURA_PERSONA_ID", "1"),
		PrefsDir:          stringsTrimSpace("AURA_PREFS_DIR"),
		ShutdownTimeout:   15 * time.Second,
		ConnectMaxRetries: 20,
		ConnectRetryDelay: 500 * time.Millisecond,
		KeepAliveInterval: 30 * time.Second,
		DisconnectGrace:   500 * time.Millisecond,
	}
	var err error
	cfg.AuthMode, err = intFromEnv("AURA_AUTH_MODE", AuthModeAPIKey)
	if err != nil {
		return Config{}, err
	}
	cfg.OrchestrationMode, err = boolFromEnv("AURA_ORCHESTRATION_MODE", false)
	if err != nil {
		return Config{}, err
	}
	cfg.VerboseProtocolLog, err = boolFromEnv("AURA_VERBOSE_PROTOCOL_LOG", false)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectMaxRetries, err = intFromEnv("AURA_CONNECT_MAX_RETRIES", cfg.ConnectMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectRetryDelay, err = durationFromEnv("AURA_CONNECT_RETRY_DELAY", cfg.ConnectRetryDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepAliveInterval, err = durationFromEnv("AURA_KEEPALIVE_INTERVAL", cfg.KeepAliveInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DisconnectGrace, err = durationFromEnv("AURA_DISCONNECT_GRACE", cfg.DisconnectGrace)
	if err != nil {
		return Config{}, err
	}

	switch cfg.AuthMode {
	case AuthModeAPIKey:
		if cfg.APIKey == "" {
			return Config{}, fmt.Errorf("AURA_API_KEY must be set when AURA_AUTH_MODE=0")
		}
		if cfg.PersonaServerURL == "" {
			return Config{}, fmt.Errorf("AURA_SERVER_URL must be set when AURA_AUTH_MODE=0")
		}
	case AuthModeTokenIssuer:
		if cfg.TokenIssuerURL == "" {
			return Config{}, fmt.Errorf("AURA_TOKEN_URL must be set when AURA_AUTH_MODE=1")
		}
	default:
		return Config{}, fmt.Errorf("AURA_AUTH_MODE must be 0 (api key) or 1 (token issuer)")
	}
	if cfg.ConnectMaxRetries <= 0 {
		return Config{}, fmt.Errorf("AURA_CONNECT_MAX_RETRIES must be positive")
	}
	if cfg.ConnectRetryDelay <= 0 {
		return Config{}, fmt.Errorf("AURA_CONNECT_RETRY_DELAY must be positive")
	}
	if cfg.KeepAliveInterval < time.Second {
		return Config{}, fmt.Errorf("AURA_KEEPALIVE_INTERVAL must be at least 1s")
	}
	if cfg.DisconnectGrace < 0 {
		return Config{}, fmt.Errorf("AURA_DISCONNECT_GRACE must not be negative")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

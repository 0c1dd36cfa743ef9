package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"

	DefaultModel = "gemini-3-flash-preview"
)

type Config struct {
	StateBackend    string
	StateTable      string
	ParamPrefix     string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	GeminiTimeout   time.Duration
	MaxContextItems int
	MaxMessageLen   int
	MaxQueryLen     int
	NatsURL         string
	NatsToken       string
	Port            int
	LogLevel        string
}

// Load reads the process environment. It fails when a variable required by
// the selected backend is missing.
func Load() (Config, error) {
	cfg := Config{
		StateBackend:    strings.ToLower(envStr("STATE_BACKEND", BackendDynamoDB)),
		StateTable:      envStr("STATE_TABLE", ""),
		ParamPrefix:     strings.TrimRight(envStr("PARAM_PREFIX", ""), "/"),
		GeminiAPIKey:    envStr("GEMINI_API_KEY", ""),
		GeminiModel:     envStr("GEMINI_MODEL", DefaultModel),
		GeminiBaseURL:   envStr("GEMINI_BASE_URL", ""),
		GeminiTimeout:   envDuration("GEMINI_TIMEOUT", 60*time.Second),
		MaxContextItems: envInt("MAX_CONTEXT_ITEMS", 20),
		MaxMessageLen:   envInt("MAX_MESSAGE_LENGTH", 2000),
		MaxQueryLen:     envInt("MAX_QUERY_LENGTH", 200),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		Port:            envInt("PORT", 8080),
		LogLevel:        envStr("LOG_LEVEL", "info"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	switch c.StateBackend {
	case BackendDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STATE_BACKEND %q is not one of %s, %s", c.StateBackend, BackendDynamoDB, BackendMemory))
	}
	if c.ParamPrefix == "" && c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("either PARAM_PREFIX or GEMINI_API_KEY must be set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// UsesParamStore reports whether runtime parameters come from SSM.
func (c Config) UsesParamStore() bool {
	return c.ParamPrefix != ""
}

// NeedsAWS reports whether any AWS client has to be created.
func (c Config) NeedsAWS() bool {
	return c.StateBackend == BackendDynamoDB || c.UsesParamStore()
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("45s") or whole seconds ("45").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration. Values are resolved in order:
// built-in defaults, then the YAML file, then CHATAPP_* environment
// variables.
type Config struct {
	// RemoteURL points at the remote data service's HTTP endpoint.
	// RemoteDSN, when set, bypasses HTTP and connects to Postgres
	// directly; it wins over RemoteURL.
	RemoteURL string `yaml:"remote_url"`
	RemoteDSN string `yaml:"remote_dsn"`

	// PendingStoreDSN selects the pending-store backend by scheme:
	// memory://, file://<dir>, or pebble://<dir>.
	PendingStoreDSN string `yaml:"pending_store_dsn"`

	UserID         string        `yaml:"user_id"`
	SearchDebounce time.Duration `yaml:"search_debounce"`
	LogLevel       string        `yaml:"log_level"`
}

func Default() Config {
	return Config{
		RemoteURL:       "http://127.0.0.1:8080",
		PendingStoreDSN: "memory://",
		SearchDebounce:  500 * time.Millisecond,
		LogLevel:        "info",
	}
}

// Load resolves the configuration. A missing file is not an error; the
// defaults and environment still apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATAPP_REMOTE_URL"); v != "" {
		cfg.RemoteURL = v
	}
	if v := os.Getenv("CHATAPP_REMOTE_DSN"); v != "" {
		cfg.RemoteDSN = v
	}
	if v := os.Getenv("CHATAPP_PENDING_STORE_DSN"); v != "" {
		cfg.PendingStoreDSN = v
	}
	if v := os.Getenv("CHATAPP_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("CHATAPP_SEARCH_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.SearchDebounce = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("CHATAPP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

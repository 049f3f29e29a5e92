package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.wxweb/config.toml. Every field can be
// overridden by a WXWEB_* environment variable.
type Config struct {
	DefaultSession string `toml:"default_session" env:"SESSION"`

	// HotReload restores the previous session on start and dumps it on stop.
	HotReload bool `toml:"hot_reload" env:"HOT_RELOAD"`
	// PushLogin asks the phone to confirm before falling back to a QR code.
	PushLogin bool `toml:"push_login" env:"PUSH_LOGIN"`

	ReceiveRetryCount int           `toml:"receive_retry_count" env:"RETRY_COUNT"`
	PollTimeout       time.Duration `toml:"poll_timeout" env:"POLL_TIMEOUT"`
	RequestTimeout    time.Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`

	UserAgent string `toml:"user_agent" env:"USER_AGENT"`
	LoginURL  string `toml:"login_url" env:"LOGIN_URL"`
	BaseURL   string `toml:"base_url" env:"BASE_URL"`
	ExtSpam   string `toml:"ext_spam" env:"EXT_SPAM"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`
}

const envPrefix = "WXWEB_"

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		PushLogin:         true,
		ReceiveRetryCount: 5,
		PollTimeout:       35 * time.Second,
		RequestTimeout:    30 * time.Second,
		LogLevel:          "info",
	}
}

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve layers the built-in defaults, the file at path when present, a
// .env file in the working directory, and WXWEB_* environment variables.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	_ = godotenv.Load()
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ReceiveRetryCount < 0 {
		return fmt.Errorf("receive_retry_count must be >= 0, got %d", c.ReceiveRetryCount)
	}
	if c.PollTimeout <= 0 || c.RequestTimeout <= 0 {
		return errors.New("poll_timeout and request_timeout must be positive")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

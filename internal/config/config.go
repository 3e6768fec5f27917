package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.deskchat/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	DefaultChat    string `toml:"default_chat"`

	Server      Server      `toml:"server"`
	Transport   Transport   `toml:"transport"`
	Attachments Attachments `toml:"attachments"`
}

// Server holds the helpdesk backend endpoint and credentials.
type Server struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// Transport tunes the realtime channel and the fallback poller.
type Transport struct {
	// DialFailureLimit is the number of consecutive realtime connect
	// failures before the session degrades to polling.
	DialFailureLimit int `toml:"dial_failure_limit"`
	// PollIntervalMS is the fallback poll period in milliseconds.
	PollIntervalMS int `toml:"poll_interval_ms"`
	// HeartbeatMS is the realtime heartbeat ping period in milliseconds.
	HeartbeatMS int `toml:"heartbeat_ms"`
	// BackoffInitialMS and BackoffMaxMS bound the reconnect backoff.
	BackoffInitialMS int `toml:"backoff_initial_ms"`
	BackoffMaxMS     int `toml:"backoff_max_ms"`
}

// Attachments bounds what the stager accepts before uploading.
type Attachments struct {
	MaxSizeBytes int64 `toml:"max_size_bytes"`
	// AllowedTypes is a list of accepted MIME types; a trailing "/*"
	// matches a whole top-level type, e.g. "image/*".
	AllowedTypes []string `toml:"allowed_types"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "default",
		Transport: Transport{
			DialFailureLimit: 3,
			PollIntervalMS:   5000,
			HeartbeatMS:      25000,
			BackoffInitialMS: 500,
			BackoffMaxMS:     30000,
		},
		Attachments: Attachments{
			MaxSizeBytes: 10 << 20,
			AllowedTypes: []string{"image/*", "application/pdf", "text/plain"},
		},
	}
}

// Load reads config from the given path and fills unset tunables with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
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

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.Token == "" {
		return fmt.Errorf("server.token is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.DefaultSession == "" {
		c.DefaultSession = def.DefaultSession
	}
	if c.Transport.DialFailureLimit <= 0 {
		c.Transport.DialFailureLimit = def.Transport.DialFailureLimit
	}
	if c.Transport.PollIntervalMS <= 0 {
		c.Transport.PollIntervalMS = def.Transport.PollIntervalMS
	}
	if c.Transport.HeartbeatMS <= 0 {
		c.Transport.HeartbeatMS = def.Transport.HeartbeatMS
	}
	if c.Transport.BackoffInitialMS <= 0 {
		c.Transport.BackoffInitialMS = def.Transport.BackoffInitialMS
	}
	if c.Transport.BackoffMaxMS <= 0 {
		c.Transport.BackoffMaxMS = def.Transport.BackoffMaxMS
	}
	if c.Attachments.MaxSizeBytes <= 0 {
		c.Attachments.MaxSizeBytes = def.Attachments.MaxSizeBytes
	}
	if len(c.Attachments.AllowedTypes) == 0 {
		c.Attachments.AllowedTypes = def.Attachments.AllowedTypes
	}
}

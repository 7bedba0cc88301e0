package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the top-level configuration for the console panel.
type Config struct {
	// APIURL is the base URL of the game-server host API, e.g. https://panel.example.com
	APIURL string `json:"api_url"`

	// Token is the bearer token used for the REST API and the console WebSocket.
	Token string `json:"token"`

	// ConsolePath is the path of the interactive console WebSocket endpoint.
	ConsolePath string `json:"console_path"`

	// LogTailPath is the base path of the log tail endpoint. The log file name
	// is appended as a path segment.
	LogTailPath string `json:"log_tail_path"`

	// StatusIntervalSeconds controls how often the server process status is polled.
	StatusIntervalSeconds int `json:"status_interval_seconds"`

	Reconnect *ReconnectConfig `json:"reconnect,omitempty"`
	Logging   *LogConfig       `json:"logging,omitempty"`
}

// ReconnectConfig controls the backoff curve used after unexpected disconnects.
type ReconnectConfig struct {
	InitialDelayMS int `json:"initial_delay_ms"`
	MaxDelayMS     int `json:"max_delay_ms"`
}

// LogConfig represents logging configuration for the panel itself.
type LogConfig struct {
	Level         string `json:"level"`
	EnableFile    bool   `json:"enable_file"`
	EnableConsole bool   `json:"enable_console"`
	Filename      string `json:"filename"`
	LogDir        string `json:"log_dir,omitempty"`
	MaxSize       int    `json:"max_size"`    // megabytes
	MaxBackups    int    `json:"max_backups"` // count
	MaxAge        int    `json:"max_age"`     // days
	Compress      bool   `json:"compress"`
	JSONFormat    bool   `json:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIURL:                "http://localhost:8080",
		ConsolePath:           "/api/v1/console/ws",
		LogTailPath:           "/api/v1/logs",
		StatusIntervalSeconds: 5,
		Reconnect: &ReconnectConfig{
			InitialDelayMS: 1000,
			MaxDelayMS:     30000,
		},
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: false,
			Filename:      "vsconsole.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url %q: %w", c.APIURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("api_url has no host")
	}
	if c.StatusIntervalSeconds <= 0 {
		return fmt.Errorf("status_interval_seconds must be positive, got %d", c.StatusIntervalSeconds)
	}
	if c.Reconnect != nil {
		if c.Reconnect.InitialDelayMS <= 0 {
			return fmt.Errorf("reconnect.initial_delay_ms must be positive, got %d", c.Reconnect.InitialDelayMS)
		}
		if c.Reconnect.MaxDelayMS < c.Reconnect.InitialDelayMS {
			return fmt.Errorf("reconnect.max_delay_ms must be >= initial_delay_ms")
		}
	}
	return nil
}

// ConsoleWebSocketURL converts the API base URL into the WebSocket URL of the
// interactive console endpoint.
func (c *Config) ConsoleWebSocketURL() string {
	base := strings.TrimSuffix(c.APIURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.ConsolePath
}

// StatusInterval returns the status polling interval as a duration.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalSeconds) * time.Second
}

// InitialDelay returns the configured initial reconnect delay.
func (r *ReconnectConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the configured reconnect delay cap.
func (r *ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	ServerURL string // Base URL of the chat backend (e.g. http://localhost:8000)
	DBPath    string // Path to the local SQLite credential database
	Debug     bool

	SessionTTL    time.Duration // Fallback token lifetime when the server omits expires_at
	WarningWindow time.Duration // Lead time for the "session expiring" notice
}

// Default returns a Config populated from environment variables where set.
func Default() Config {
	return Config{
		ServerURL:     getEnv("STREAMCHAT_SERVER", "http://localhost:8000"),
		DBPath:        getEnv("STREAMCHAT_DB", "streamchat.db"),
		SessionTTL:    30 * time.Minute,
		WarningWindow: 5 * time.Minute,
	}
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("server URL must start with http:// or https://: %q", c.ServerURL)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be > 0")
	}
	if c.WarningWindow <= 0 {
		return fmt.Errorf("warning window must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

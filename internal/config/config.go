// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string        `env:"MYAIPANEL_LISTEN_ADDR,default=127.0.0.1:8091"`
	DBPath          string        `env:"MYAIPANEL_DB_PATH,default=myaipanel.db"`
	IdentityFile    string        `env:"MYAIPANEL_IDENTITY_FILE"`
	RefreshInterval time.Duration `env:"MYAIPANEL_REFRESH_INTERVAL,default=5m"`
}

// Load reads configuration from environment variables and returns a validated
// Config. Every variable is optional: MYAIPANEL_LISTEN_ADDR (127.0.0.1:8091),
// MYAIPANEL_DB_PATH (myaipanel.db), MYAIPANEL_REFRESH_INTERVAL (5m) and
// MYAIPANEL_IDENTITY_FILE, which defaults to .claude.json in the user's home
// directory.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.RefreshInterval <= 0 {
		return nil, fmt.Errorf("MYAIPANEL_REFRESH_INTERVAL must be positive, got %s", cfg.RefreshInterval)
	}

	if cfg.IdentityFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory for identity file: %w", err)
		}
		cfg.IdentityFile = filepath.Join(home, ".claude.json")
	}

	return &cfg, nil
}

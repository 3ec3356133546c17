// Package config loads client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read once at startup and passed down by value.
type Config struct {
	BackendURL string `env:"TOOLLINK_BACKEND_URL" envDefault:"http://localhost:3001/api"`
	StorageDir string `env:"TOOLLINK_STORAGE_DIR"`

	LoginTimeout   time.Duration `env:"TOOLLINK_LOGIN_TIMEOUT"   envDefault:"0s"`
	RefreshTimeout time.Duration `env:"TOOLLINK_REFRESH_TIMEOUT" envDefault:"3s"`
	InitTimeout    time.Duration `env:"TOOLLINK_INIT_TIMEOUT"    envDefault:"5s"`
	LogoutTimeout  time.Duration `env:"TOOLLINK_LOGOUT_TIMEOUT"  envDefault:"3s"`
	PendingTimeout time.Duration `env:"TOOLLINK_PENDING_TIMEOUT" envDefault:"5s"`

	TokenRefreshInterval time.Duration `env:"TOOLLINK_TOKEN_REFRESH_INTERVAL" envDefault:"14m"`
	ReconcileInterval    time.Duration `env:"TOOLLINK_RECONCILE_INTERVAL"     envDefault:"2s"`
	MaxRefreshFailures   int           `env:"TOOLLINK_MAX_REFRESH_FAILURES"   envDefault:"1"`

	// StrictAdmin withholds the admin bypass until /auth/me has confirmed the identity.
	StrictAdmin bool `env:"TOOLLINK_STRICT_ADMIN" envDefault:"false"`
	Debug       bool `env:"TOOLLINK_DEBUG"        envDefault:"false"`
}

// Load parses the environment and fills in the default storage directory.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = DefaultStorageDir()
	}
	return cfg, nil
}

// DefaultStorageDir is $XDG_CONFIG_HOME/toollink, falling back to ~/.config/toollink.
func DefaultStorageDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "toollink")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "toollink")
}

// Validate reports every invalid field at once, in field order.
func (c Config) Validate() error {
	var problems []error
	if c.BackendURL == "" {
		problems = append(problems, errors.New("backend url is empty"))
	} else if u, err := url.Parse(c.BackendURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, fmt.Errorf("backend url %q is not an http(s) url", c.BackendURL))
	}
	if c.StorageDir == "" {
		problems = append(problems, errors.New("storage dir is empty"))
	}
	if c.LoginTimeout < 0 {
		problems = append(problems, errors.New("login timeout is negative"))
	}
	for _, p := range []struct {
		name string
		d    time.Duration
	}{
		{"refresh timeout", c.RefreshTimeout},
		{"init timeout", c.InitTimeout},
		{"logout timeout", c.LogoutTimeout},
		{"pending timeout", c.PendingTimeout},
		{"token refresh interval", c.TokenRefreshInterval},
		{"reconcile interval", c.ReconcileInterval},
	} {
		if p.d <= 0 {
			problems = append(problems, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}
	if c.MaxRefreshFailures < 1 {
		problems = append(problems, errors.New("max refresh failures must be at least 1"))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %w", errors.Join(problems...))
	}
	return nil
}

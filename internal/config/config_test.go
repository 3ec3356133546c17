package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:3001/api", cfg.BackendURL)
	require.Equal(t, filepath.Join(dir, "toollink"), cfg.StorageDir)
	require.Zero(t, cfg.LoginTimeout)
	require.Equal(t, 3*time.Second, cfg.RefreshTimeout)
	require.Equal(t, 5*time.Second, cfg.InitTimeout)
	require.Equal(t, 14*time.Minute, cfg.TokenRefreshInterval)
	require.Equal(t, 2*time.Second, cfg.ReconcileInterval)
	require.Equal(t, 1, cfg.MaxRefreshFailures)
	require.False(t, cfg.StrictAdmin)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TOOLLINK_BACKEND_URL", "https://api.toollink.example/api")
	t.Setenv("TOOLLINK_STORAGE_DIR", "/tmp/tl")
	t.Setenv("TOOLLINK_RECONCILE_INTERVAL", "500ms")
	t.Setenv("TOOLLINK_STRICT_ADMIN", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://api.toollink.example/api", cfg.BackendURL)
	require.Equal(t, "/tmp/tl", cfg.StorageDir)
	require.Equal(t, 500*time.Millisecond, cfg.ReconcileInterval)
	require.True(t, cfg.StrictAdmin)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("TOOLLINK_INIT_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("want parse error")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	base, err := Load()
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"empty url":        func(c *Config) { c.BackendURL = "" },
		"ftp url":          func(c *Config) { c.BackendURL = "ftp://x" },
		"zero reconcile":   func(c *Config) { c.ReconcileInterval = 0 },
		"negative refresh": func(c *Config) { c.RefreshTimeout = -time.Second },
		"negative login":   func(c *Config) { c.LoginTimeout = -time.Second },
		"no failures":      func(c *Config) { c.MaxRefreshFailures = 0 },
		"no storage":       func(c *Config) { c.StorageDir = "" },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil || !strings.HasPrefix(err.Error(), "config:") {
			t.Fatalf("%s: got %v", name, err)
		}
	}
}

func TestValidate_StableOrder(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	c, err := Load()
	require.NoError(t, err)
	c.RefreshTimeout = 0
	c.InitTimeout = 0
	c.ReconcileInterval = 0

	first := c.Validate().Error()
	for range 20 {
		require.Equal(t, first, c.Validate().Error())
	}
	lines := strings.Split(strings.TrimPrefix(first, "config: "), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "refresh timeout"))
	require.True(t, strings.HasPrefix(lines[1], "init timeout"))
	require.True(t, strings.HasPrefix(lines[2], "reconcile interval"))
}

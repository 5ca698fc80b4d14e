package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"BACKEND_URL", "https://dashboard.local:8443")
	t.Setenv(EnvPrefix+"ACTION_WINDOW", "1m")
	t.Setenv(EnvPrefix+"TABLE", "true")
	t.Setenv(EnvPrefix+"PREVIEW_MAX_WIDTH", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://dashboard.local:8443", cfg.BackendURL)
	assert.Equal(t, time.Minute, cfg.ActionWindow)
	assert.True(t, cfg.TerminalTable)
	assert.Equal(t, Default().PreviewMaxWidth, cfg.PreviewMaxWidth)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := EnvPrefix + "ADDR=:9999\n" + EnvPrefix + "LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv(EnvPrefix+"LOG_LEVEL", "warn")
	// Registers cleanup for the variable the file is about to set.
	t.Setenv(EnvPrefix+"ADDR", "")
	require.NoError(t, os.Unsetenv(EnvPrefix+"ADDR"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"relative backend": func(c *Config) { c.BackendURL = "/api" },
		"ftp backend":      func(c *Config) { c.BackendURL = "ftp://host" },
		"empty addr":       func(c *Config) { c.Addr = "" },
		"zero width":       func(c *Config) { c.PreviewMaxWidth = 0 },
		"zero rate":        func(c *Config) { c.ActionRate = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

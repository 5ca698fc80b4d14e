// Package config loads the console configuration from defaults, an optional
// .env file and DETECTION_CONSOLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DETECTION_CONSOLE_"

// Config defines the runtime configuration for the detection console.
type Config struct {
	BackendURL      string
	Addr            string
	LogLevel        string
	LogColor        bool
	PreviewMaxWidth int
	ActionRate      int // operator actions allowed per ActionWindow per client
	ActionWindow    time.Duration
	TerminalTable   bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BackendURL:      "http://127.0.0.1:5000",
		Addr:            ":8090",
		LogLevel:        "info",
		LogColor:        true,
		PreviewMaxWidth: 1280,
		ActionRate:      20,
		ActionWindow:    10 * time.Second,
		TerminalTable:   false,
	}
}

// Load reads envFile (a missing file is fine; "" skips it) into the process
// environment without overriding variables already set, then applies the
// environment on top of Default.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	d := Default()
	cfg := Config{
		BackendURL:      getEnv("BACKEND_URL", d.BackendURL),
		Addr:            getEnv("ADDR", d.Addr),
		LogLevel:        getEnv("LOG_LEVEL", d.LogLevel),
		LogColor:        getEnvAsBool("LOG_COLOR", d.LogColor),
		PreviewMaxWidth: getEnvAsInt("PREVIEW_MAX_WIDTH", d.PreviewMaxWidth),
		ActionRate:      getEnvAsInt("ACTION_RATE", d.ActionRate),
		ActionWindow:    getEnvAsDuration("ACTION_WINDOW", d.ActionWindow),
		TerminalTable:   getEnvAsBool("TABLE", d.TerminalTable),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend url %q must be an absolute http(s) URL", c.BackendURL)
	}
	if c.Addr == "" {
		return errors.New("listen address is empty")
	}
	if c.PreviewMaxWidth <= 0 {
		return fmt.Errorf("preview max width must be positive, got %d", c.PreviewMaxWidth)
	}
	if c.ActionRate <= 0 || c.ActionWindow <= 0 {
		return fmt.Errorf("action rate %d per %v is not usable", c.ActionRate, c.ActionWindow)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// config is loaded from the environment and may be overridden by the
// global flags.
type config struct {
	// APIURL is the backend's API root. ENV: REMITADMIN_API_URL
	APIURL string `env:"REMITADMIN_API_URL,default=http://localhost:8001/api/v1"`
	// SessionBackend is "file" or "redis". The Redis store reads REDIS_ADDR,
	// REDIS_DB, SESSION_KEY_PREFIX and SESSION_TTL itself.
	// ENV: REMITADMIN_SESSION_BACKEND
	SessionBackend string `env:"REMITADMIN_SESSION_BACKEND,default=file"`
	// SessionFile defaults to <user config dir>/remitadmin/session.json.
	// ENV: REMITADMIN_SESSION_FILE
	SessionFile string `env:"REMITADMIN_SESSION_FILE"`
	// HTTPTimeout bounds each request to the backend. ENV: REMITADMIN_HTTP_TIMEOUT
	HTTPTimeout time.Duration `env:"REMITADMIN_HTTP_TIMEOUT,default=30s"`
	// LogLevel is one of debug, info, warn, error. ENV: REMITADMIN_LOG_LEVEL
	LogLevel string `env:"REMITADMIN_LOG_LEVEL,default=warn"`
}

func loadConfig() (*config, error) {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

func (c *config) sessionFile() (string, error) {
	if c.SessionFile != "" {
		return c.SessionFile, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir (set REMITADMIN_SESSION_FILE): %w", err)
	}
	return filepath.Join(dir, "remitadmin", "session.json"), nil
}

func (c *config) logLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}

package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// summary to w. This powers "config show": the values in effect after all
// four override layers have been applied. Secrets are masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[server]\n")
	ew.printf("  base_url        = %q\n", cfg.Server.BaseURL)
	ew.printf("  user_agent      = %q\n", cfg.Server.UserAgent)
	ew.printf("  timeout         = %q\n", cfg.Server.Timeout)
	ew.printf("  refresh_timeout = %q\n\n", cfg.Server.RefreshTimeout)

	ew.printf("[credentials]\n")
	ew.printf("  store              = %q\n", cfg.Credentials.Store)
	ew.printf("  access_token_name  = %q\n", cfg.Credentials.AccessTokenName)
	ew.printf("  refresh_token_name = %q\n", cfg.Credentials.RefreshTokenName)
	ew.printf("  max_age            = %q\n", cfg.Credentials.MaxAge)
	ew.printf("  path               = %q\n", cfg.Credentials.Path)

	if cfg.Credentials.Store == StoreFile {
		ew.printf("  file               = %q\n", cfg.Credentials.File)
	}

	ew.printf("\n[broadcast]\n")
	ew.printf("  bus           = %q\n", cfg.Broadcast.Bus)

	if cfg.Broadcast.Bus == BusFile {
		ew.printf("  dir           = %q\n", cfg.Broadcast.Dir)
	}

	if cfg.Broadcast.WebSocketURL != "" {
		ew.printf("  websocket_url = %q\n", cfg.Broadcast.WebSocketURL)
	}

	ew.printf("\n[redis]\n")
	ew.printf("  addr   = %q\n", cfg.Redis.Addr)
	ew.printf("  db     = %d\n", cfg.Redis.DB)
	ew.printf("  prefix = %q\n\n", cfg.Redis.Prefix)

	ew.printf("[logging]\n")
	ew.printf("  log_level = %q\n\n", cfg.Logging.LogLevel)

	ew.printf("[devserver]\n")
	ew.printf("  listen        = %q\n", cfg.Devserver.Listen)
	ew.printf("  access_ttl    = %q\n", cfg.Devserver.AccessTTL)
	ew.printf("  refresh_ttl   = %q\n", cfg.Devserver.RefreshTTL)
	ew.printf("  database      = %q\n", cfg.Devserver.Database)
	ew.printf("  signing_key   = %q\n", mask(cfg.Devserver.SigningKey))
	ew.printf("  seed_email    = %q\n", cfg.Devserver.SeedEmail)
	ew.printf("  seed_password = %q\n\n", mask(cfg.Devserver.SeedPassword))

	ew.printf("[gateway]\n")
	ew.printf("  listen     = %q\n", cfg.Gateway.Listen)
	ew.printf("  entry_path = %q\n", cfg.Gateway.EntryPath)

	return ew.err
}

// Redacted returns a copy of cfg with secrets masked, for structured output.
func (cfg *Config) Redacted() *Config {
	out := *cfg
	out.Devserver.SigningKey = mask(cfg.Devserver.SigningKey)
	out.Devserver.SeedPassword = mask(cfg.Devserver.SeedPassword)

	return &out
}

// mask hides a secret while showing whether it is set.
func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return "********"
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for authsession. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Credentials CredentialsConfig `toml:"credentials"`
	Broadcast   BroadcastConfig   `toml:"broadcast"`
	Redis       RedisConfig       `toml:"redis"`
	Logging     LoggingConfig     `toml:"logging"`
	Devserver   DevserverConfig   `toml:"devserver"`
	Gateway     GatewayConfig     `toml:"gateway"`
}

// ServerConfig describes the backend API the session talks to.
type ServerConfig struct {
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	Timeout        string `toml:"timeout"`
	RefreshTimeout string `toml:"refresh_timeout"`
}

// Credential store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreJar    = "jar"
)

// CredentialsConfig selects where the token pair lives and under which names.
type CredentialsConfig struct {
	Store            string `toml:"store"`
	AccessTokenName  string `toml:"access_token_name"`
	RefreshTokenName string `toml:"refresh_token_name"`
	MaxAge           string `toml:"max_age"`
	Path             string `toml:"path"`
	File             string `toml:"file"`
}

// Broadcast bus kinds.
const (
	BusMemory    = "memory"
	BusFile      = "file"
	BusRedis     = "redis"
	BusWebSocket = "websocket"
)

// BroadcastConfig selects how sign-out reaches other sessions of the origin.
type BroadcastConfig struct {
	Bus          string `toml:"bus"`
	Dir          string `toml:"dir"`
	WebSocketURL string `toml:"websocket_url"`
}

// RedisConfig is shared by the Redis credential store and broadcast bus.
type RedisConfig struct {
	Addr   string `toml:"addr"`
	DB     int    `toml:"db"`
	Prefix string `toml:"prefix"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// DevserverConfig configures the local development backend.
type DevserverConfig struct {
	Listen       string `toml:"listen"`
	AccessTTL    string `toml:"access_ttl"`
	RefreshTTL   string `toml:"refresh_ttl"`
	Database     string `toml:"database"`
	SigningKey   string `toml:"signing_key"`
	SeedEmail    string `toml:"seed_email"`
	SeedPassword string `toml:"seed_password"`
}

// GatewayConfig configures the server-side rendering gateway.
type GatewayConfig struct {
	Listen    string `toml:"listen"`
	EntryPath string `toml:"entry_path"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	BaseURL    *string // --base-url flag
	Store      *string // --store flag
}

// mustDuration parses a duration that Validate has already accepted.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// TimeoutDuration is the per-request HTTP timeout.
func (s *ServerConfig) TimeoutDuration() time.Duration {
	return mustDuration(s.Timeout)
}

// RefreshTimeoutDuration bounds a single token refresh call.
func (s *ServerConfig) RefreshTimeoutDuration() time.Duration {
	return mustDuration(s.RefreshTimeout)
}

// MaxAgeDuration is how long stored credentials live.
func (c *CredentialsConfig) MaxAgeDuration() time.Duration {
	return mustDuration(c.MaxAge)
}

// AccessTTLDuration is the lifetime of devserver access tokens.
func (d *DevserverConfig) AccessTTLDuration() time.Duration {
	return mustDuration(d.AccessTTL)
}

// RefreshTTLDuration is the lifetime of devserver refresh tokens.
func (d *DevserverConfig) RefreshTTLDuration() time.Duration {
	return mustDuration(d.RefreshTTL)
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minTimeout        = 1 * time.Second
	minRefreshTimeout = 1 * time.Second
	minAccessTTL      = 1 * time.Second
	maxRedisDB        = 15
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateCredentials(&cfg.Credentials)...)
	errs = append(errs, validateBroadcast(&cfg.Broadcast)...)
	errs = append(errs, validateRedis(&cfg.Redis)...)
	errs = append(errs, validateLogLevel(cfg.Logging.LogLevel)...)
	errs = append(errs, validateDevserver(&cfg.Devserver)...)
	errs = append(errs, validateGateway(&cfg.Gateway)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	errs = append(errs, validateHTTPURL("server.base_url", s.BaseURL)...)
	errs = append(errs, validateDurationMin("server.timeout", s.Timeout, minTimeout)...)
	errs = append(errs, validateDurationMin("server.refresh_timeout", s.RefreshTimeout, minRefreshTimeout)...)

	return errs
}

var validStores = map[string]bool{
	StoreMemory: true,
	StoreFile:   true,
	StoreRedis:  true,
	StoreJar:    true,
}

func validateCredentials(c *CredentialsConfig) []error {
	var errs []error

	if !validStores[c.Store] {
		errs = append(errs, fmt.Errorf("credentials.store: must be one of memory, file, redis, jar; got %q", c.Store))
	}

	if c.AccessTokenName == "" {
		errs = append(errs, errors.New("credentials.access_token_name: must not be empty"))
	}

	if c.RefreshTokenName == "" {
		errs = append(errs, errors.New("credentials.refresh_token_name: must not be empty"))
	}

	if c.AccessTokenName != "" && c.AccessTokenName == c.RefreshTokenName {
		errs = append(errs, errors.New("credentials: access and refresh token names must differ"))
	}

	errs = append(errs, validateDurationNonNeg("credentials.max_age", c.MaxAge)...)

	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("credentials.path: must start with /, got %q", c.Path))
	}

	if c.Store == StoreFile && c.File == "" {
		errs = append(errs, errors.New("credentials.file: required when store is \"file\""))
	}

	return errs
}

var validBuses = map[string]bool{
	BusMemory:    true,
	BusFile:      true,
	BusRedis:     true,
	BusWebSocket: true,
}

func validateBroadcast(b *BroadcastConfig) []error {
	var errs []error

	if !validBuses[b.Bus] {
		errs = append(errs, fmt.Errorf("broadcast.bus: must be one of memory, file, redis, websocket; got %q", b.Bus))
	}

	if b.Bus == BusFile && b.Dir == "" {
		errs = append(errs, errors.New("broadcast.dir: required when bus is \"file\""))
	}

	if b.WebSocketURL != "" {
		u, err := url.Parse(b.WebSocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("broadcast.websocket_url: must be a ws, wss, http or https URL; got %q", b.WebSocketURL))
		}
	}

	return errs
}

func validateRedis(r *RedisConfig) []error {
	var errs []error

	if r.Addr == "" {
		errs = append(errs, errors.New("redis.addr: must not be empty"))
	}

	if r.DB < 0 || r.DB > maxRedisDB {
		errs = append(errs, fmt.Errorf("redis.db: must be between 0 and %d, got %d", maxRedisDB, r.DB))
	}

	if strings.Contains(r.Prefix, " ") {
		errs = append(errs, fmt.Errorf("redis.prefix: must not contain spaces, got %q", r.Prefix))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

func validateDevserver(d *DevserverConfig) []error {
	var errs []error

	if d.Listen == "" {
		errs = append(errs, errors.New("devserver.listen: must not be empty"))
	}

	errs = append(errs, validateDurationMin("devserver.access_ttl", d.AccessTTL, minAccessTTL)...)
	errs = append(errs, validateDurationMin("devserver.refresh_ttl", d.RefreshTTL, minAccessTTL)...)

	if d.SeedEmail != "" && !strings.Contains(d.SeedEmail, "@") {
		errs = append(errs, fmt.Errorf("devserver.seed_email: not an email address: %q", d.SeedEmail))
	}

	if d.SeedEmail != "" && d.SeedPassword == "" {
		errs = append(errs, errors.New("devserver.seed_password: required when seed_email is set"))
	}

	return errs
}

func validateGateway(g *GatewayConfig) []error {
	var errs []error

	if g.Listen == "" {
		errs = append(errs, errors.New("gateway.listen: must not be empty"))
	}

	if !strings.HasPrefix(g.EntryPath, "/") {
		errs = append(errs, fmt.Errorf("gateway.entry_path: must start with /, got %q", g.EntryPath))
	}

	return errs
}

func validateHTTPURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("%s: must be an http or https URL, got %q", field, value)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("%s: missing host in %q", field, value)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}

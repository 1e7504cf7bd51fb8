package config

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file against a devserver
// running on this machine.
const (
	defaultBaseURL          = "http://localhost:3333"
	defaultUserAgent        = "authsession/0.1"
	defaultTimeout          = "30s"
	defaultRefreshTimeout   = "30s"
	defaultAccessTokenName  = "nextauth.token"
	defaultRefreshTokenName = "nextauth.refreshToken"
	defaultMaxAge           = "720h" // 30 days
	defaultCookiePath       = "/"
	defaultRedisAddr        = "localhost:6379"
	defaultRedisPrefix      = "authsession"
	defaultLogLevel         = "info"
	defaultDevserverListen  = "localhost:3333"
	defaultAccessTTL        = "15m"
	defaultRefreshTTL       = "720h"
	defaultSeedEmail        = "diego@rocketseat.team"
	defaultSeedPassword     = "123456"
	defaultGatewayListen    = "localhost:3000"
	defaultEntryPath        = "/"
)

// DefaultConfig returns a Config populated with all default values. It is
// both the starting point for TOML decoding (so unset fields keep their
// defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:        defaultBaseURL,
			UserAgent:      defaultUserAgent,
			Timeout:        defaultTimeout,
			RefreshTimeout: defaultRefreshTimeout,
		},
		Credentials: CredentialsConfig{
			Store:            StoreFile,
			AccessTokenName:  defaultAccessTokenName,
			RefreshTokenName: defaultRefreshTokenName,
			MaxAge:           defaultMaxAge,
			Path:             defaultCookiePath,
			File:             DefaultCredentialsPath(),
		},
		Broadcast: BroadcastConfig{
			Bus: BusFile,
			Dir: DefaultSignalDir(),
		},
		Redis: RedisConfig{
			Addr:   defaultRedisAddr,
			Prefix: defaultRedisPrefix,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
		Devserver: DevserverConfig{
			Listen:       defaultDevserverListen,
			AccessTTL:    defaultAccessTTL,
			RefreshTTL:   defaultRefreshTTL,
			Database:     DefaultDatabasePath(),
			SeedEmail:    defaultSeedEmail,
			SeedPassword: defaultSeedPassword,
		},
		Gateway: GatewayConfig{
			Listen:    defaultGatewayListen,
			EntryPath: defaultEntryPath,
		},
	}
}

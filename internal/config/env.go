package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "AUTHSESSION_CONFIG"
	EnvBaseURL = "AUTHSESSION_BASE_URL"
	EnvStore   = "AUTHSESSION_STORE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // AUTHSESSION_CONFIG: override config file path
	BaseURL    string // AUTHSESSION_BASE_URL: backend API base URL
	Store      string // AUTHSESSION_STORE: credential store kind
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvBaseURL),
		Store:      os.Getenv(EnvStore),
	}
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "authsession"

// File names inside the config and data directories.
const (
	configFileName      = "config.toml"
	credentialsFileName = "credentials.json"
	signalDirName       = "signals"
	databaseFileName    = "devserver.db"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/authsession).
// On macOS, uses ~/Library/Application Support/authsession.
// Other platforms fall back to ~/.config/authsession.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// data: the shared credentials file, broadcast signal files and the
// devserver database.
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/authsession).
// On macOS, config and data share one directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// xdgDir returns $env/authsession when env is set, else ~/fallback/authsession.
func xdgDir(env, home, fallback string) string {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used when neither AUTHSESSION_CONFIG nor --config is specified.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// DefaultCredentialsPath is the file shared by every CLI process of the user.
func DefaultCredentialsPath() string {
	return inDir(DefaultDataDir(), credentialsFileName)
}

// DefaultSignalDir holds one broadcast signal file per origin.
func DefaultSignalDir() string {
	return inDir(DefaultDataDir(), signalDirName)
}

// DefaultDatabasePath is the devserver's SQLite database.
func DefaultDatabasePath() string {
	return inDir(DefaultDataDir(), databaseFileName)
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// expandPaths applies tilde expansion to every filesystem path setting.
func expandPaths(cfg *Config) {
	cfg.Credentials.File = expandTilde(cfg.Credentials.File)
	cfg.Broadcast.Dir = expandTilde(cfg.Broadcast.Dir)
	cfg.Devserver.Database = expandTilde(cfg.Devserver.Database)
}

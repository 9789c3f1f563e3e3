package config

import (
	"os"
	"path/filepath"

	"transcode-bridge/internal/domain"
)

// DefaultAppName names the public output folder and window title.
const DefaultAppName = "TranscodeBridge"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		OutputDir: DefaultPublicDir(DefaultAppName),
	}
}

// DefaultPublicDir returns ~/Movies/<app>, the default stage-out folder.
func DefaultPublicDir(app string) string {
	return filepath.Join(homeDir(), "Movies", app)
}

// DefaultDataDir returns the per-user data directory for app.
func DefaultDataDir(app string) string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, app)
	}
	return filepath.Join(homeDir(), "."+app)
}

func homeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return homeDir
}

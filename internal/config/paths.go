package config

import (
	"os"
	"path/filepath"
)

const appName = "tubeq"

// GetTubeqDir returns the application config directory.
// It honours XDG_CONFIG_HOME through os.UserConfigDir.
func GetTubeqDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "."+appName)
	}
	return filepath.Join(dir, appName)
}

// GetStateDir holds the history database.
func GetStateDir() string {
	return filepath.Join(GetTubeqDir(), "state")
}

// GetLogsDir holds per-run debug logs.
func GetLogsDir() string {
	return filepath.Join(GetTubeqDir(), "logs")
}

// GetRuntimeDir holds the instance lock, port and token files.
func GetRuntimeDir() string {
	return GetTubeqDir()
}

// GetHistoryPath returns the path of the sqlite history database.
func GetHistoryPath() string {
	return filepath.Join(GetStateDir(), "history.db")
}

// EnsureDirs creates every application directory.
func EnsureDirs() error {
	for _, dir := range []string{GetTubeqDir(), GetStateDir(), GetLogsDir(), GetRuntimeDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

package constants

import (
	"path/filepath"
	"time"
)

// Application identity
const (
	AppName         = "sshconnector"
	EnvPrefix       = "SSHCONNECTOR"
	ConfigFileName  = "config.yaml"
	HistoryFileName = "history.db"
)

// SSH defaults
const (
	DefaultSSHPort    = 22
	DefaultUser       = "deploy"
	DefaultSSHTimeout = 30 * time.Second
	TryConnectTimeout = 10 * time.Second
)

// History defaults
const (
	DefaultHistoryLimit  = 50
	DefaultRetentionDays = 90
)

// ConfigDir returns the sshconnector directory under a user config dir.
func ConfigDir(userConfigDir string) string {
	return filepath.Join(userConfigDir, AppName)
}

// ConfigFilePath returns the global config file path under a user config dir.
func ConfigFilePath(userConfigDir string) string {
	return filepath.Join(ConfigDir(userConfigDir), ConfigFileName)
}

// HistoryFilePath returns the default history database path under a user config dir.
func HistoryFilePath(userConfigDir string) string {
	return filepath.Join(ConfigDir(userConfigDir), HistoryFileName)
}

// EnvVar returns the full name of a prefixed environment variable.
func EnvVar(name string) string {
	return EnvPrefix + "_" + name
}

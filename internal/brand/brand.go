// Package brand provides centralized branding constants for boxwatch.
// Keeping identity strings in one place makes renaming or white-labeling
// a one-file change.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name        = "Boxwatch"
	LowerName   = "boxwatch"
	BinaryName  = "boxwatch"
	ServiceName = "boxwatch"
	Description = "MSP cloud bridge for firewall rule and device state"

	ConfigEnvPrefix  = "BOXWATCH"
	DefaultConfigDir = "/etc/boxwatch"
	DefaultStateDir  = "/var/lib/boxwatch"
	ConfigFileName   = "boxwatch.hcl"
)

// Version is set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// UserAgent returns a User-Agent string for upstream HTTP requests.
func UserAgent() string {
	return Name + "/" + Version
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: BOXWATCH_STATE_DIR > BOXWATCH_PREFIX/state > DefaultStateDir.
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return DefaultConfigDir + "/" + ConfigFileName
}

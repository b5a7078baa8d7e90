package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultInstance = "default"

	// HomeEnv overrides the svchost home directory.
	HomeEnv = "SVCHOST_HOME"
)

// InstancePaths contains all paths for an svchost instance.
type InstancePaths struct {
	Home     string // Instance home directory
	Config   string // TOML settings file
	ConfigDB string // SQLite settings store
	Logs     string // Logs directory
	RunDir   string // Runtime state directory
	PIDFile  string // Daemon pid file
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetHome(), "instances", instanceName)

	return InstancePaths{
		Home:     instanceDir,
		Config:   filepath.Join(instanceDir, "svchost.toml"),
		ConfigDB: filepath.Join(instanceDir, "settings.db"),
		Logs:     filepath.Join(instanceDir, "logs"),
		RunDir:   filepath.Join(instanceDir, "run"),
		PIDFile:  filepath.Join(instanceDir, "run", "svchostd.pid"),
	}
}

// GetHome returns the svchost home directory: $SVCHOST_HOME when set,
// otherwise ~/.svchost.
func GetHome() string {
	if override := strings.TrimSpace(os.Getenv(HomeEnv)); override != "" {
		return ExpandPath(override)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".svchost")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the given instance if it does not exist.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)

	for _, dir := range []string{paths.Home, paths.Logs, paths.RunDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}

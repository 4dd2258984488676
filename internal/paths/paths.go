// Package paths resolves the larder configuration and data directories and
// the files referenced from config.yaml.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// Project-local directory names, looked up in the working directory.
const (
	LocalConfigDirName = ".larder"
	LocalDataDirName   = ".larder-db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "LARDER_CONFIG_DIR"
	EnvDataDir   = "LARDER_DATA_DIR"
)

const appName = "larder"

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/larder (fallback ~/.config/larder)
// macOS:   ~/Library/Application Support/larder
// Windows: %APPDATA%/larder
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/larder (fallback ~/.local/share/larder)
// macOS and Windows: same as the config dir, under a "data" subdirectory.
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName, "data"), nil
}

func xdgDir(env, fallback string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, appName), nil
}

// ResolveConfigDir returns the configuration directory following the
// precedence chain: flag > LARDER_CONFIG_DIR > $(CWD)/.larder when it exists
// > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	if local, ok := localDir(LocalConfigDirName); ok {
		return local, nil
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > config.yaml data_dir > LARDER_DATA_DIR > $(CWD)/.larder-db.
//
// A relative data_dir from config.yaml is taken relative to configDir so
// that a project config keeps working from any working directory.
func ResolveDataDir(flag, configYAMLValue, configDir string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configYAMLValue != "" {
		return ResolveFile(configDir, configYAMLValue)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, LocalDataDirName), nil
}

// ResolveFile returns name as an absolute path, joining relative names onto
// dir. An empty name resolves to the empty string.
func ResolveFile(dir, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if filepath.IsAbs(name) || dir == "" {
		return filepath.Abs(name)
	}
	return filepath.Abs(filepath.Join(dir, name))
}

// localDir reports $(CWD)/name when it exists as a directory.
func localDir(name string) (string, bool) {
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", false
	}
	dir := filepath.Join(cwd, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

var (
	// ConfigDir is the global configuration directory (~/.wsprobe)
	ConfigDir string

	// PlansDir is the default plans directory
	PlansDir string

	// DatabasePath is the SQLite database file for load test runs
	DatabasePath string

	// EnvFile is the global env file loaded before a plan's own
	EnvFile string
)

// Initialize sets up the configuration directories
// It creates ~/.wsprobe/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".wsprobe"))
}

// InitializeAt sets up the configuration under dir
func InitializeAt(dir string) error {
	ConfigDir = dir
	PlansDir = filepath.Join(ConfigDir, "plans")
	DatabasePath = filepath.Join(ConfigDir, "wsprobe.db")
	EnvFile = filepath.Join(ConfigDir, ".env")

	for _, d := range []string{ConfigDir, PlansDir} {
		if err := os.MkdirAll(d, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}

	return nil
}

// ExpandHome expands a leading ~/ to the home directory
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// ResolvePlanPath finds a plan file. Paths that exist as given win,
// otherwise the name is looked up in the plans directory.
func ResolvePlanPath(name string) (string, error) {
	path, err := ExpandHome(name)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if !filepath.IsAbs(path) && PlansDir != "" {
		candidate := filepath.Join(PlansDir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("plan not found: %s", name)
}

// GlobalEnvFile returns the global env file path when it exists
func GlobalEnvFile() (string, bool) {
	if EnvFile == "" {
		return "", false
	}
	if _, err := os.Stat(EnvFile); err != nil {
		return "", false
	}
	return EnvFile, true
}

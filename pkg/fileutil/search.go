// Package fileutil locates configuration files
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirEnv names an extra directory searched before the defaults
const ConfigDirEnv = "DEPLOYMETRICS_CONFIG_DIR"

// SearchPaths looks for a regular file in multiple locations.
// Returns the first path where the file exists, or an error if not found.
func SearchPaths(paths []string) (string, error) {
	if path := SearchPathsOptional(paths); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("file not found in any of the search paths: %v", paths)
}

// SearchPathsOptional looks for a regular file in multiple locations.
// Returns the first path where the file exists, or empty string if not found.
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths returns standard config search paths for a given filename.
// Search order:
// 1. $DEPLOYMETRICS_CONFIG_DIR/<filename>, when set
// 2. Current directory (./<filename>)
// 3. Config subdirectory (./config/<filename>)
// 4. User config directory (e.g. ~/.config/deploymetrics/<filename>)
// 5. System-wide config (/etc/deploymetrics/<filename>)
func DefaultConfigPaths(filename string) []string {
	var paths []string
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		paths = append(paths, filepath.Join(dir, filename))
	}
	paths = append(paths,
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
	)
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "deploymetrics", filename))
	}
	return append(paths, filepath.Join("/etc/deploymetrics", filename))
}

// FindConfigOptional searches for a config file in default locations.
// Returns the path if found, or empty string if not found.
func FindConfigOptional(filename string) string {
	return SearchPathsOptional(DefaultConfigPaths(filename))
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

package security

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PermConfigFile is for configuration files holding secrets (rw-r-----)
	PermConfigFile os.FileMode = 0640

	// PermLogFile is for the structured log file (rw-r-----)
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the SQLite deployment database (rw-r-----)
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories created for logs and databases (rwxr-x---)
	PermDirectory os.FileMode = 0750
)

// CreateSecureDir creates a directory and its parents with perm, fixing the
// mode afterwards since MkdirAll is subject to umask.
func CreateSecureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}
	return nil
}

// OpenLogFile opens path for appending, creating it and its directory with
// restricted permissions.
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), PermDirectory); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, PermLogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// PrepareDBPath makes sure the database directory exists and that an existing
// database file is not readable by others.
func PrepareDBPath(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := CreateSecureDir(dir, PermDirectory); err != nil {
				return err
			}
		}
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat database: %w", err)
	}

	if perm := info.Mode().Perm(); IsWorldReadable(perm) || IsWorldWritable(perm) {
		if err := os.Chmod(path, PermDBFile); err != nil {
			return fmt.Errorf("failed to fix database permissions: %w", err)
		}
	}
	return nil
}

// IsWorldReadable checks if a file is readable by others
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions validates that a file holding secrets is neither
// world-readable nor world-writable.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for sensitive data", path, perm)
	}
	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}

	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AppDir returns the per-user application directory. LOCALAPPDATA wins when set
// (Windows, where the overlay runs); otherwise the OS user config dir is used.
func AppDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); root != "" {
		return filepath.Join(root, AppDirName), nil
	}
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(root, AppDirName), nil
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

func BackupPath(path string) string  { return path + ".bak" }
func CorruptPath(path string) string { return path + ".corrupt" }

// Package config holds persisted user settings and the runtime tunables
// derived from them.
package config

import (
	"os"
	"path/filepath"
)

// GetConfigDir returns the directory uloget stores its settings file in.
func GetConfigDir() string {
	if dir := os.Getenv("ULOGET_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "uloget")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".uloget"
	}
	return filepath.Join(home, ".config", "uloget")
}

// GetTempDir returns the default working directory for journals, the link
// cache, and anonymizer working directories, honoring the TEMP_FOLDER
// environment variable named in the external interfaces (falling back to
// DATA_FOLDER, the original service entrypoint's name for the same
// directory, before the OS default).
func GetTempDir() string {
	if dir := os.Getenv("TEMP_FOLDER"); dir != "" {
		return dir
	}
	if dir := os.Getenv("DATA_FOLDER"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// GetDownloadDir returns the default destination directory for completed
// files, honoring the DOWNLOAD_FOLDER environment variable.
func GetDownloadDir() string {
	if dir := os.Getenv("DOWNLOAD_FOLDER"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

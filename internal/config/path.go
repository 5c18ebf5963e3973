package config

import (
	"os"
	"path/filepath"
)

const appDir = "mapsd"

// DefaultDataDir returns the default data directory for this host.
// MAPS_DATA_DIR is handled by FromEnv and wins over this.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return dataDirFor(home, os.Getenv("XDG_DATA_HOME"), isDir)
}

// dataDirFor picks the first usable location: XDG data home, the system
// state dir, the per-user application dirs of macOS and Windows, then a
// dot dir in home.
func dataDirFor(home, xdg string, exists func(string) bool) string {
	if home == "" {
		return "./data"
	}
	if xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	candidates := []struct{ parent, dir string }{
		{"/var/lib", filepath.Join("/var/lib", appDir)},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Mapsd")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Mapsd")},
	}
	for _, c := range candidates {
		if exists(c.parent) {
			return c.dir
		}
	}
	return filepath.Join(home, "."+appDir)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

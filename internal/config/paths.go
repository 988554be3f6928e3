package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const licenseCacheFile = "license.json"

// DataDir returns a writable per-user directory for license artifacts,
// creating it if necessary. On Windows this is
// %APPDATA%\Financial Command Center, elsewhere
// ~/.local/share/financial-command-center. If no per-user directory can
// be resolved or created, the current working directory is used so the
// client keeps working in constrained environments.
func DataDir() string {
	dir := userDataDir()
	if dir == "" {
		return fallbackDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fallbackDir()
	}
	return dir
}

// LicenseCachePath returns the path of the persisted license cache file.
func LicenseCachePath() string {
	return filepath.Join(DataDir(), licenseCacheFile)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func userDataDir() string {
	if runtime.GOOS == "windows" {
		base := os.Getenv("APPDATA")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return ""
			}
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, "Financial Command Center")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "financial-command-center")
}

func fallbackDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

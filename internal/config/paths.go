package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvHome relocates every switchboard file.
const EnvHome = "SWITCHBOARD_HOME"

// Paths are the on-disk locations switchboard reads and writes.
type Paths struct {
	Base        string
	Config      string
	Credentials string
	Logs        string
	Data        string
	Database    string
}

// PathsAt lays out the standard tree under base.
func PathsAt(base string) Paths {
	data := filepath.Join(base, "data")
	return Paths{
		Base:        base,
		Config:      filepath.Join(base, "config.yaml"),
		Credentials: filepath.Join(base, "credentials"),
		Logs:        filepath.Join(base, "logs"),
		Data:        data,
		Database:    filepath.Join(data, "switchboard.db"),
	}
}

// ResolvePaths roots the tree at $SWITCHBOARD_HOME, or ~/.switchboard.
func ResolvePaths() (Paths, error) {
	if base := os.Getenv(EnvHome); base != "" {
		return PathsAt(filepath.Clean(base)), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("locating home directory (set %s): %w", EnvHome, err)
	}
	return PathsAt(filepath.Join(home, ".switchboard")), nil
}

// CalendarToken is where `calendar auth` saves the OAuth token.
func (p Paths) CalendarToken() string {
	return filepath.Join(p.Credentials, "calendar-token.json")
}

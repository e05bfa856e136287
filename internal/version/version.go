// Package version carries build metadata stamped in with -ldflags, for
// example:
//
//	go build -ldflags "-X github.com/soyeahso/switchboard/internal/version.Version=1.4.0"
//
// Commit and Date fall back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build is the resolved build metadata.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
	Dirty     bool   `json:"dirty,omitempty"`
}

// Get resolves the build metadata.
func Get() Build {
	b := Build{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		b.fromVCS(info.Settings)
	}
	return b
}

func (b *Build) fromVCS(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		}
	}
}

// ShortCommit is the first seven characters of the commit.
func (b Build) ShortCommit() string {
	if len(b.Commit) > 7 {
		return b.Commit[:7]
	}
	return b.Commit
}

func (b Build) String() string {
	commit := b.ShortCommit()
	if b.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("switchboard %s (commit: %s, built: %s, %s %s)",
		b.Version, commit, b.Date, b.GoVersion, b.Platform)
}

// Info is Get().String().
func Info() string { return Get().String() }

// UserAgent identifies switchboard to remote services.
func UserAgent() string { return "switchboard/" + Version }

// Dev reports an unstamped build.
func Dev() bool { return Version == "dev" }

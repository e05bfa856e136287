package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/switchboard/internal/cli"
	"github.com/soyeahso/switchboard/internal/version"
	"github.com/tillberg/autorestart"
)

func main() {
	// Unstamped dev builds re-exec themselves when the binary is rebuilt.
	if version.Dev() && os.Getenv("SWITCHBOARD_NO_AUTORESTART") == "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "switchboard:", err)
		os.Exit(1)
	}
}

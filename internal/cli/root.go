// Package cli implements the switchboard command tree.
package cli

import (
	"os"

	"github.com/fatih/color"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/spf13/cobra"
)

const envLogLevel = "SWITCHBOARD_LOG_LEVEL"

// Set by the root command before any subcommand runs.
var (
	cfgFile  string
	logLevel string
	noColor  bool

	paths config.Paths
	log   *logging.Logger
)

// setup resolves paths, loads .env files and builds the CLI logger.
func setup(*cobra.Command, []string) error {
	var err error
	if paths, err = config.ResolvePaths(); err != nil {
		return err
	}
	if cfgFile != "" {
		paths.Config = cfgFile
	}
	config.LoadDotEnv(paths)

	if logLevel == "" {
		logLevel = os.Getenv(envLogLevel)
	}
	level := logLevel
	if level == "" {
		level = "info"
	}
	log = logging.New(nil, level)

	if noColor {
		color.NoColor = true
	}
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "switchboard",
		Short: "Multi-agent conversation orchestrator",
		Long: "Switchboard routes customer conversations from messaging channels\n" +
			"through intent classification, specialist agents and booking workflows.",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.switchboard/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "trace, debug, info, warn, error or silent (env "+envLogLevel+")")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddGroup(
		&cobra.Group{ID: "run", Title: "Running:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)
	for _, c := range []*cobra.Command{newServeCmd(), newChatCmd()} {
		c.GroupID = "run"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{newConversationCmd(), newConfigCmd(), newStatusCmd(), newCalendarCmd()} {
		c.GroupID = "ops"
		root.AddCommand(c)
	}
	root.AddCommand(newVersionCmd())
	return root
}

func Execute() error {
	return newRootCmd().Execute()
}

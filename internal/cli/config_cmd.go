package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the configuration",
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}

			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}

			val, ok := config.GetValueAtPath(raw, path)
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}

			return printValue(cmd.OutOrStdout(), val)
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(redacted(cfg))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			issues := config.Validate(&cfg)
			if len(issues) == 0 {
				color.New(color.FgGreen).Fprintf(out, "%s is valid\n", paths.Config)
				return nil
			}
			warn := color.New(color.FgRed)
			for _, issue := range issues {
				warn.Fprint(out, "  ✗ ")
				fmt.Fprintln(out, issue.String())
			}
			return fmt.Errorf("%d validation issue(s)", len(issues))
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

const redactedValue = "********"

// redacted returns cfg with credentials masked.
func redacted(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redactedValue
		}
	}
	mask(&cfg.Gateway.Auth.Token)
	mask(&cfg.Gateway.Auth.Password)
	mask(&cfg.Store.DSN)
	mask(&cfg.Lease.RedisPassword)
	if cfg.Channels.IRC != nil {
		irc := *cfg.Channels.IRC
		mask(&irc.Password)
		cfg.Channels.IRC = &irc
	}
	providers := make(map[string]config.LLMProvider, len(cfg.LLM.Providers))
	for name, p := range cfg.LLM.Providers {
		mask(&p.APIKey)
		providers[name] = p
	}
	cfg.LLM.Providers = providers
	return cfg
}

// printValue outputs a value in a human-readable format.
func printValue(w io.Writer, v any) error {
	switch val := v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(val)
		if err != nil {
			return err
		}
		fmt.Fprint(w, string(data))
	default:
		fmt.Fprintln(w, val)
	}
	return nil
}

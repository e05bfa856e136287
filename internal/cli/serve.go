package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/switchboard/internal/channel"
	"github.com/soyeahso/switchboard/internal/channel/irc"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/gateway"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/routing"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Run the gateway, channels and conversation sweeper",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			srvLog, closer, err := serveLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer closer.Close()

			// Raw config for config.get
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, srvLog)
			if err != nil {
				return err
			}
			defer a.Close()

			channels := channel.NewRegistry(srvLog)
			if cfg.Channels.IRC != nil {
				if err := channels.Register(irc.New(*cfg.Channels.IRC, srvLog)); err != nil {
					return err
				}
			}

			srv := gateway.New(cfg, a.orch, srvLog,
				gateway.WithConfigRaw(raw),
				gateway.WithChannels(channels),
				gateway.WithHooks(a.hooks),
			)

			if channels.Count() > 0 {
				router := routing.NewRouter(channels, a.orch, a.hooks, cfg.Channels.Scope, srvLog)
				router.Wire(ctx)
				if err := channels.Start(ctx); err != nil {
					return fmt.Errorf("starting channels: %w", err)
				}
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := channels.Stop(stopCtx); err != nil {
						srvLog.Warn().Err(err).Msg("channels did not stop cleanly")
					}
				}()
				srvLog.Info().
					Int("channels", channels.Count()).
					Str("scope", cfg.Channels.Scope).
					Msg("message routing active")
			}

			go a.orch.RunSweeper(ctx, cfg.Orchestrator.SweepInterval())

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

// serveLogger builds the long-running logger from the logging config. The
// --log-level flag wins over the configured level.
func serveLogger(cfg config.LoggingConfig) (*logging.Logger, io.Closer, error) {
	level := cfg.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.NewWithOptions(logging.Options{
		Level: level,
		Style: cfg.ConsoleStyle,
		File:  cfg.File,
	})
}

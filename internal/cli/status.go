package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/gateway"
	"github.com/soyeahso/switchboard/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configuration summary and whether the gateway is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "switchboard %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:   error loading: %v\n", err)
				return nil
			}
			printSummary(out, cfg)

			health, err := fetchHealth(cmd.Context(), cfg.Gateway)
			if err != nil {
				color.New(color.FgYellow).Fprintf(out, "\nGateway:  not reachable (%v)\n", err)
			} else {
				color.New(color.FgGreen).Fprintf(out, "\nGateway:  %s\n", health.Status)
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue.String())
				}
			}
			return nil
		},
	}

	return cmd
}

func printSummary(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "Gateway:  port=%d bind=%s auth=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)
	fmt.Fprintf(w, "Store:    driver=%s window=%d\n", cfg.Store.Driver, cfg.Store.HistoryWindow)
	fmt.Fprintf(w, "Lease:    driver=%s ttl=%s\n", cfg.Lease.Driver, cfg.Lease.TTL())

	providers := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	if len(providers) > 0 {
		fmt.Fprintf(w, "LLM:      default=%s providers=%s\n", cfg.LLM.Default, strings.Join(providers, ","))
	} else {
		fmt.Fprintf(w, "LLM:      default=%s\n", cfg.LLM.Default)
	}

	for _, a := range cfg.Agents.List {
		fmt.Fprintf(w, "Agent:    id=%s tools=%s\n", a.ID, strings.Join(a.Tools, ","))
	}
	for _, wf := range cfg.Workflows {
		fmt.Fprintf(w, "Workflow: name=%s steps=%d action=%s\n", wf.Name, len(wf.Steps), wf.Action.Tool)
	}

	if cfg.Channels.IRC != nil {
		irc := cfg.Channels.IRC
		fmt.Fprintf(w, "IRC:      server=%s nick=%s channels=%s tls=%v\n",
			irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
	} else {
		fmt.Fprintln(w, "IRC:      (not configured)")
	}
	if cfg.Calendar != nil {
		fmt.Fprintf(w, "Calendar: id=%s tz=%s\n", cfg.Calendar.CalendarID, cfg.Calendar.TimeZone)
	}
}

// fetchHealth queries the health endpoint of a running gateway.
func fetchHealth(ctx context.Context, gw config.GatewayConfig) (*gateway.HealthResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	host := "127.0.0.1"
	if gw.Bind == "custom" && gw.CustomBindHost != "" {
		host = gw.CustomBindHost
	}
	url := fmt.Sprintf("http://%s:%d/health", host, gw.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %s", resp.Status)
	}
	var h gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding health: %w", err)
	}
	return &h, nil
}

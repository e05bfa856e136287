package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/soyeahso/switchboard/internal/domain"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Inspect and operate on stored conversations",
	}

	cmd.AddCommand(newConversationShowCmd())
	cmd.AddCommand(newConversationTimelineCmd())
	cmd.AddCommand(newConversationResumeCmd())
	cmd.AddCommand(newConversationEndCmd())
	cmd.AddCommand(newConversationSweepCmd())
	return cmd
}

// withApp runs fn against the configured store.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newConversationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the conversation record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				conv, err := a.orch.Conversation(ctx, args[0])
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(conv, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
}

func newConversationTimelineCmd() *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: "Print the event timeline of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				evs, err := a.orch.Timeline(ctx, args[0])
				if err != nil {
					return err
				}
				if len(evs) == 0 {
					return fmt.Errorf("no events for conversation %q", args[0])
				}
				printTimeline(cmd.OutOrStdout(), evs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

func newConversationResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Return an escalated conversation to its last agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				conv, err := a.orch.Resume(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s with agent %s\n", conv.ID, conv.ActiveAgent)
				return nil
			})
		},
	}
}

func newConversationEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <id>",
		Short: "Close a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				replies, err := a.orch.End(ctx, args[0])
				if err != nil {
					return err
				}
				for _, r := range replies {
					fmt.Fprintf(cmd.OutOrStdout(), "%s> %s\n", r.AgentID, r.Body)
				}
				return nil
			})
		},
	}
}

func newConversationSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete conversations idle longer than the conversation TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.orch.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d conversation(s)\n", n)
				return nil
			})
		},
	}
}

var kindColors = map[domain.EventKind]*color.Color{
	domain.EventMessageIn:   color.New(color.FgCyan),
	domain.EventMessageOut:  color.New(color.FgGreen),
	domain.EventAgentSwitch: color.New(color.FgMagenta),
	domain.EventToolCall:    color.New(color.FgYellow),
	domain.EventToolResult:  color.New(color.FgYellow),
	domain.EventError:       color.New(color.FgRed, color.Bold),
}

var (
	dimColor   = color.New(color.Faint)
	finalColor = color.New(color.FgHiWhite, color.Bold)
)

// printTimeline writes one line per event, grouped by turn. Turns that
// never committed are flagged.
func printTimeline(w io.Writer, evs []domain.Event) {
	committed := make(map[string]bool)
	for _, ev := range evs {
		if ev.Final {
			committed[ev.TurnID] = true
		}
	}

	turn := ""
	for _, ev := range evs {
		if ev.TurnID != turn {
			turn = ev.TurnID
			label := "turn " + turn
			if !committed[turn] {
				label += " (not committed)"
			}
			dimColor.Fprintln(w, label)
		}

		kc, ok := kindColors[ev.Kind]
		if !ok {
			kc = color.New(color.Reset)
		}
		fmt.Fprintf(w, "  %4d %s ", ev.Seq, ev.Timestamp.UTC().Format(time.TimeOnly))
		kc.Fprintf(w, "%-12s", ev.Kind)
		if ev.Final {
			finalColor.Fprint(w, " final")
		}
		if p := compactPayload(ev.Payload); p != "" {
			fmt.Fprint(w, " ", p)
		}
		fmt.Fprintln(w)
	}
}

func compactPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

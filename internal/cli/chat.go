package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/orchestrator"
)

func newChatCmd() *cobra.Command {
	var (
		from   string
		memory bool
	)

	cmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Talk to the agents from the terminal",
		Long: "Runs turns of a conversation locally against the configured store. " +
			"Type /end to close the conversation and /quit to leave.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if memory {
				cfg.Store.Driver = "memory"
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Keep pipeline logs out of the transcript unless asked for.
			quiet := logging.New(nil, "warn")
			if logLevel != "" {
				quiet = log
			}
			a, err := newApp(ctx, cfg, quiet)
			if err != nil {
				return err
			}
			defer a.Close()

			id := "cli:" + from
			if len(args) == 1 {
				id = args[0]
			}
			return chatLoop(ctx, a.orch, id, from, os.Stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&from, "from", "operator", "sender name recorded on each turn")
	cmd.Flags().BoolVar(&memory, "memory", false, "use a throwaway in-memory store")

	return cmd
}

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	agentColor  = color.New(color.FgGreen, color.Bold)
	errorColor  = color.New(color.FgRed)
)

// chatLoop reads one turn per line from in until EOF or /quit.
func chatLoop(ctx context.Context, orch *orchestrator.Orchestrator, id, from string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	turn := 0
	for {
		promptColor.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var (
			replies []domain.OutboundMessage
			err     error
		)
		switch line {
		case "/quit", "/exit":
			return nil
		case "/end":
			replies, err = orch.End(ctx, id)
		default:
			turn++
			replies, err = orch.HandleInboundTurn(ctx, id, domain.ChannelMetadata{
				ChannelID: "cli",
				From:      from,
				ReplyTo:   from,
				MessageID: fmt.Sprintf("%s-%d", id, turn),
			}, line)
		}
		if err != nil {
			errorColor.Fprintf(out, "error: %v\n", err)
			continue
		}
		for _, r := range replies {
			agentColor.Fprintf(out, "%s> ", r.AgentID)
			fmt.Fprintln(out, r.Body)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

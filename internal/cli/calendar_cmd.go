package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/tools/calendar"
	"github.com/spf13/cobra"
)

func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Manage the Google Calendar booking backend",
	}
	cmd.AddCommand(newCalendarAuthCmd())
	return cmd
}

func newCalendarAuthCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize switchboard to create calendar events",
		Long: "Prints the Google consent URL, then exchanges the authorization code " +
			"for a token saved next to the other credentials.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if cfg.Calendar == nil || cfg.Calendar.CredentialsFile == "" {
				return errors.New("calendar.credentialsFile is not configured")
			}
			cc := calendarConfig(cfg.Calendar)

			oc, err := calendar.OAuthConfig(cc.CredentialsFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if code == "" {
				fmt.Fprintf(out, "Open this URL and grant access:\n\n  %s\n\nAuthorization code: ", calendar.AuthURL(oc))
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading authorization code: %w", err)
				}
				code = strings.TrimSpace(line)
			}
			if code == "" {
				return errors.New("no authorization code given")
			}

			if err := calendar.Exchange(cmd.Context(), oc, code, cc.TokenFile); err != nil {
				return err
			}
			fmt.Fprintf(out, "Token saved to %s\n", cc.TokenFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "authorization code, skips the prompt")
	return cmd
}

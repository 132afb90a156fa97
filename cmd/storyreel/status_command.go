package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"storyreel/internal/apiclient"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				if errors.Is(err, apiclient.ErrDaemonUnavailable) {
					return fmt.Errorf("daemon is not running (start it with storyreeld): %w", err)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon running (pid %d, up since %s)\n",
				status.PID, status.StartedAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "Storyboards: %s\n", status.StoryboardDir)
			fmt.Fprintf(out, "Assets:      %s\n", status.AssetDBPath)
			fmt.Fprintf(out, "Sessions:    %d active\n", status.ActiveSessions)
			if !status.AssetDBHealthy && status.AssetDBProblems != "" {
				fmt.Fprintf(out, "Asset DB:    UNHEALTHY (%s)\n", status.AssetDBProblems)
			}

			if len(status.Providers) == 0 {
				return nil
			}
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				for _, p := range status.Providers {
					fmt.Fprintf(out, "provider=%s tokens=%.0f in_flight=%d/%d\n",
						p.Provider, p.Tokens, p.CurrentRequests, p.MaxConcurrent)
				}
				return nil
			}
			rows := make([]table.Row, 0, len(status.Providers))
			for _, p := range status.Providers {
				capacity := "unlimited"
				if p.Capacity > 0 {
					capacity = strconv.FormatFloat(p.Capacity, 'f', 0, 64)
				}
				rows = append(rows, table.Row{
					p.Provider,
					strconv.FormatFloat(p.Tokens, 'f', 0, 64),
					capacity,
					fmt.Sprintf("%d/%d", p.CurrentRequests, p.MaxConcurrent),
				})
			}
			fmt.Fprintln(out, renderTable(
				table.Row{"Provider", "Tokens", "Capacity", "In Flight"},
				rows, 2, 3, 4,
			))
			return nil
		},
	}
}

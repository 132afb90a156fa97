package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newStoryboardCommand(ctx *commandContext) *cobra.Command {
	storyboardCmd := &cobra.Command{
		Use:   "storyboard",
		Short: "Inspect and manage storyboards",
	}
	storyboardCmd.AddCommand(newStoryboardListCommand(ctx))
	storyboardCmd.AddCommand(newStoryboardShowCommand(ctx))
	storyboardCmd.AddCommand(newStoryboardRemoveCommand(ctx))
	return storyboardCmd
}

func newStoryboardListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all storyboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			boards, err := client.ListStoryboards(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(boards) == 0 {
				fmt.Fprintln(out, "No storyboards")
				return nil
			}

			if !isatty.IsTerminal(os.Stdout.Fd()) {
				for _, sb := range boards {
					fmt.Fprintf(out, "%s\t%s\t%s\t%d/%d\n",
						sb.ID, sb.Name, sb.Generation.Status,
						len(sb.Clips), len(sb.OriginalScenes))
				}
				return nil
			}

			rows := make([]table.Row, 0, len(boards))
			for _, sb := range boards {
				rows = append(rows, table.Row{
					sb.ID,
					sb.Name,
					string(sb.Generation.Status),
					fmt.Sprintf("%d/%d", len(sb.Clips), len(sb.OriginalScenes)),
					sb.CreatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(out, renderTable(
				table.Row{"ID", "Name", "Status", "Scenes", "Created"},
				rows, 4,
			))
			return nil
		},
	}
}

func newStoryboardShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <storyboard-id>",
		Short: "Show one storyboard with its clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			sb, err := client.GetStoryboard(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", sb.Name, sb.ID)
			if sb.Description != "" {
				fmt.Fprintf(out, "Concept:  %s\n", sb.Description)
			}
			fmt.Fprintf(out, "Provider: %s\n", sb.Provider)
			fmt.Fprintf(out, "Status:   %s (%d/%d scenes)\n",
				sb.Generation.Status, len(sb.Clips), len(sb.OriginalScenes))
			if sb.Generation.PausedReason != "" {
				fmt.Fprintf(out, "Paused:   %s\n", sb.Generation.PausedReason)
			}
			for _, diagnostic := range sb.Diagnostics {
				fmt.Fprintf(out, "Warning:  %s\n", diagnostic)
			}
			if len(sb.Clips) == 0 {
				return nil
			}

			rows := make([]table.Row, 0, len(sb.Clips))
			for _, clip := range sb.Clips {
				rows = append(rows, table.Row{
					strconv.Itoa(clip.Order + 1),
					clip.Name,
					strconv.FormatFloat(clip.DurationSeconds, 'f', 1, 64) + "s",
					clip.AssetID,
				})
			}
			fmt.Fprintln(out, renderTable(
				table.Row{"#", "Name", "Duration", "Asset"},
				rows, 1, 3,
			))
			return nil
		},
	}
}

func newStoryboardRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <storyboard-id>",
		Short: "Delete a storyboard record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.DeleteStoryboard(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed storyboard %s\n", args[0])
			return nil
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyreel/internal/api"
	"storyreel/internal/apiclient"
	"storyreel/internal/session"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var provider string
	var sceneCount int
	var name string
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a movie from a concept prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			prompt := strings.TrimSpace(strings.Join(args, " "))

			resp, err := client.Initialize(cmd.Context(), api.InitializeRequest{
				Prompt:     prompt,
				Provider:   provider,
				SceneCount: sceneCount,
				Name:       name,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Storyboard %s (%s), session %s\n",
				resp.Storyboard.ID, resp.Storyboard.Name, resp.SessionID)

			watchCtx, stopWatch := context.WithCancel(cmd.Context())
			defer stopWatch()
			if !noWatch {
				go streamProgress(watchCtx, cmd, client, resp.SessionID)
			}

			result, err := client.Start(cmd.Context(), resp.SessionID)
			if err != nil {
				return err
			}
			stopWatch()
			fmt.Fprintf(out, "Run settled: %s (%d/%d scenes)\n",
				result.Status, result.CompletedScenes, result.TotalScenes)
			for _, failure := range result.Errors {
				fmt.Fprintf(out, "  scene %d: %s\n", failure.SceneIndex+1, failure.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Generation provider (openai, anthropic, stub)")
	cmd.Flags().IntVarP(&sceneCount, "scenes", "s", 0, "Number of scenes to generate")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Storyboard name (derived from the prompt when empty)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not stream per-scene progress")
	return cmd
}

func streamProgress(ctx context.Context, cmd *cobra.Command, client *apiclient.Client, sessionID string) {
	out := cmd.OutOrStdout()
	_ = client.WatchProgress(ctx, sessionID, func(raw json.RawMessage) {
		var event session.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return
		}
		switch event.Type {
		case session.EventSceneCompleted:
			if event.SceneIndex != nil {
				fmt.Fprintf(out, "  scene %d done (%d/%d)\n",
					*event.SceneIndex+1, event.CompletedScenes, event.TotalScenes)
			}
		case session.EventSceneFailed:
			if event.SceneIndex != nil {
				fmt.Fprintf(out, "  scene %d failed: %s\n", *event.SceneIndex+1, event.Message)
			}
		}
	})
}

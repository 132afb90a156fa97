package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAssetCommand(ctx *commandContext) *cobra.Command {
	assetCmd := &cobra.Command{
		Use:   "asset",
		Short: "Inspect stored assets",
	}

	assetCmd.AddCommand(&cobra.Command{
		Use:   "show <asset-id>",
		Short: "Print one asset's content and caption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			asset, err := client.GetAsset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asset.Caption != "" {
				fmt.Fprintf(out, "Caption: %s\n\n", asset.Caption)
			}
			fmt.Fprintln(out, asset.Content)
			return nil
		},
	})

	return assetCmd
}

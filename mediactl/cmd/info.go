package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func InfoCmd(client func() *APIClient) *cobra.Command {
	return &cobra.Command{
		Use:   "info <url>",
		Short: "shows metadata for a media URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := client().Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Title:     %s\n", info.Metadata.Title)
			fmt.Fprintf(out, "Uploader:  %s\n", info.Metadata.Uploader)
			fmt.Fprintf(out, "Duration:  %s\n", (time.Duration(info.Metadata.Duration) * time.Second).String())
			if info.Metadata.Thumbnail != "" {
				fmt.Fprintf(out, "Thumbnail: %s\n", info.Metadata.Thumbnail)
			}
			fmt.Fprintf(out, "Cached:    %t\n", info.Cached)
			return nil
		},
	}
}

func FormatsCmd(client func() *APIClient) *cobra.Command {
	return &cobra.Command{
		Use:       "formats <video|audio>",
		Short:     "lists the formats offered for a media kind",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"video", "audio"},
		RunE: func(cmd *cobra.Command, args []string) error {
			formats, err := client().Formats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, f := range formats {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", f.ID, f.Label)
			}
			return nil
		},
	}
}

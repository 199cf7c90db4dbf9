package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type globalOptions struct {
	server  string
	timeout time.Duration
}

// NewRootCmd builds the mediactl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "mediactl",
		Short:         "A cli for the media download gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("MEDIACTL_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "API gateway base URL (env MEDIACTL_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "request-timeout", 30*time.Second, "timeout for each HTTP request")

	client := func() *APIClient { return NewAPIClient(opts.server, opts.timeout) }

	rootCmd.AddCommand(InfoCmd(client))
	rootCmd.AddCommand(FormatsCmd(client))
	rootCmd.AddCommand(SubmitCmd(client))
	rootCmd.AddCommand(StatusCmd(client))
	rootCmd.AddCommand(WatchCmd(client))
	return rootCmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		rootCmd.PrintErrln("Error:", err)
		stop()
		os.Exit(1)
	}
}

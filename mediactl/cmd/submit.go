package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"media-downloader/shared"
)

func SubmitCmd(client func() *APIClient) *cobra.Command {
	var (
		req     shared.SubmitRequest
		wait    bool
		timeout time.Duration
	)

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "queues a download job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			resp, err := c.Submit(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("failed to submit job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued.\n", resp.JobID)
			if !wait {
				return nil
			}
			return watchJob(cmd, c, resp.JobID, timeout)
		},
	}

	submitCmd.Flags().StringVar(&req.URL, "url", "", "media URL")
	submitCmd.Flags().StringVar(&req.Kind, "kind", "video", "media kind (video or audio)")
	submitCmd.Flags().StringVar(&req.Format, "format", "best", "format id, see `mediactl formats`")
	submitCmd.Flags().StringVar(&req.Priority, "priority", "normal", "low, normal, high or urgent")
	submitCmd.Flags().BoolVar(&wait, "wait", false, "watch the job until it finishes")
	submitCmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait (server default when zero)")
	submitCmd.MarkFlagRequired("url")
	return submitCmd
}

func StatusCmd(client func() *APIClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "shows the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd, status)
			return nil
		},
	}
}

func WatchCmd(client func() *APIClient) *cobra.Command {
	var timeout time.Duration
	watchCmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "follows a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchJob(cmd, client(), args[0], timeout)
		},
	}
	watchCmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait (server default when zero)")
	return watchCmd
}

func watchJob(cmd *cobra.Command, c *APIClient, jobID string, timeout time.Duration) error {
	out := cmd.OutOrStdout()
	final, err := c.Watch(cmd.Context(), jobID, timeout, func(f WatchFrame) {
		fmt.Fprintf(out, "[%3.0f%%] %s (%.0fs)\n", f.Progress*100, f.Status.State, f.Elapsed)
	})
	if err != nil {
		return err
	}

	if final.TimedOut {
		fmt.Fprintf(out, "Stopped waiting, job %s is still %s.\n", jobID, final.Status.State)
		return nil
	}
	switch final.Status.State {
	case shared.JobStateCompleted:
		fmt.Fprintf(out, "Job %s completed: %s\n", jobID, final.Status.ResultPath)
	case shared.JobStateFailed:
		return errors.New("job failed: " + final.Status.Error)
	}
	return nil
}

func printStatus(cmd *cobra.Command, s *StatusResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", s.ID)
	fmt.Fprintf(out, "State:    %s\n", s.State)
	fmt.Fprintf(out, "URL:      %s\n", s.URL)
	fmt.Fprintf(out, "Kind:     %s (%s)\n", s.Kind, s.Format)
	fmt.Fprintf(out, "Priority: %s\n", s.Priority)
	fmt.Fprintf(out, "Updated:  %s\n", s.UpdatedAt.Format(time.RFC3339))
	if s.ResultPath != "" {
		fmt.Fprintf(out, "File:     %s\n", s.ResultPath)
	}
	if s.DownloadEndpoint != "" {
		fmt.Fprintf(out, "Download: %s\n", s.DownloadEndpoint)
	}
	if s.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", s.Error)
	}
}

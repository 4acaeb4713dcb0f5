package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"watchfolder/internal/upload"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var statuses []string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show files waiting for upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue(cmd, ctx)
			if err != nil {
				return err
			}
			defer queue.Close()

			filter := make([]upload.Status, 0, len(statuses))
			for _, status := range statuses {
				filter = append(filter, upload.Status(strings.TrimSpace(status)))
			}
			items, err := queue.List(cmd.Context(), limit, filter...)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					string(item.Status),
					item.TaskName,
					item.Path,
					item.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			headers := []string{"ID", "Status", "Task", "Path", "Created"}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, []columnAlignment{alignRight}))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows to show")
	cmd.Flags().StringSliceVar(&statuses, "status", []string{string(upload.StatusPending)}, "Statuses to include (pending, done, failed)")

	cmd.AddCommand(newQueueDoneCommand(ctx))
	return cmd
}

func newQueueDoneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>...",
		Short: "Mark uploads as finished",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue(cmd, ctx)
			if err != nil {
				return err
			}
			defer queue.Close()

			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid id %q", arg)
				}
				if err := queue.MarkDone(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d done\n", id)
			}
			return nil
		},
	}
}

func openQueue(cmd *cobra.Command, ctx *commandContext) (*upload.Queue, error) {
	settings, err := ctx.loadSettings()
	if err != nil {
		return nil, err
	}
	return upload.Open(cmd.Context(), settings.Daemon.ResolvedDataDir(), upload.Options{})
}

package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
)

func workerCommand() *cobra.Command {
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the task queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				a.logger.Info("[worker] consuming tasks (poll %v)", poll)
				err := a.queue.Consume(cmd.Context(), a.orch, poll)
				if errors.Is(err, context.Canceled) {
					a.logger.Info("[worker] stopped")
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", 5*time.Second, "wait between empty polls")
	return cmd
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/concert-ticketing/internal/queue"
)

func newConsumeCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Feed reservation.confirmed events into the sales rankings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, cleanup, err := openDeps(ctx, rt)
			if err != nil {
				return err
			}
			defer cleanup()
			return queue.NewConsumer(rt.cfg.RabbitURL, d.tracker.Handle, rt.logger.Named("consumer")).Run(ctx)
		},
	}
}

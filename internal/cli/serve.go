package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/raptscallions/storage/internal/server"
	"github.com/raptscallions/storage/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		addr          string
		maxFailures   int
		failureWindow time.Duration
		sweepSchedule string
		sweepMaxAge   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and local signed URLs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, b, err := openBackend()
			if err != nil {
				return err
			}

			if local, ok := storage.Underlying(b).(*storage.FilesystemBackend); ok && sweepSchedule != "" {
				sweeper, err := storage.NewTempSweeper(local, sweepSchedule, sweepMaxAge)
				if err != nil {
					return err
				}
				sweeper.Start()
				defer sweeper.Stop()
			}

			srv := server.New(name, b,
				server.WithAddr(addr),
				server.WithTokenGuard(maxFailures, failureWindow),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case <-sigChan:
					log.Info().Msg("Shutdown signal received")
				case <-ctx.Done():
				}
				cancel()

				shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
				defer done()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Server shutdown incomplete")
				}
			}()

			if err := srv.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Server error")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", server.DefaultAddr, "listen address")
	cmd.Flags().IntVar(&maxFailures, "max-token-failures", 10, "invalid signed URL tokens before a client is blocked (0 disables)")
	cmd.Flags().DurationVar(&failureWindow, "token-failure-window", 15*time.Minute, "window for counting invalid tokens")
	cmd.Flags().StringVar(&sweepSchedule, "sweep-schedule", "@hourly", "cron schedule for removing leftover local upload files (empty disables)")
	cmd.Flags().DurationVar(&sweepMaxAge, "sweep-max-age", storage.DefaultSweepMaxAge, "minimum age of a leftover file before it is removed")

	return cmd
}

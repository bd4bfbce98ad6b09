package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/templui/formpipe/internal/app"
	"github.com/templui/formpipe/internal/config"
	"github.com/templui/formpipe/internal/logger"
)

// WorkerCmd consumes the task queue outside the server, for deployments that
// set TASK_CONSUME=false on the web instances.
func WorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run background tasks from the AMQP queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger.Init(logger.Options{Dev: cfg.IsDevelopment(), Service: "formpipe-worker", SentryDSN: cfg.SentryDSN})

			if cfg.TaskBackend != "amqp" {
				return fmt.Errorf("worker needs TASK_BACKEND=amqp (got %q)", cfg.TaskBackend)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, app.Options{Consume: false})
			if err != nil {
				return err
			}
			defer func() {
				closeErr := a.Close()
				if closeErr != nil {
					slog.Error("failed to close app", "error", closeErr)
				}
			}()

			stopConsumer := a.RunConsumer(context.WithoutCancel(ctx))
			slog.Info("worker started", "queue", cfg.TaskQueue)

			<-ctx.Done()
			slog.Info("worker stopping")
			stopConsumer()
			return nil
		},
	}
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/markdave123-py/docuiq/internal/app"
	"github.com/markdave123-py/docuiq/internal/core"
)

func workerCMD() *cobra.Command {
	var workers int
	var worker = &cobra.Command{
		Use:   "worker",
		Short: "Consume ingest tasks from the redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cfg.QueueBackend != "redis" {
				return core.Configuration("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
			}
			if cfg.UsesMemoryDatabase() {
				return core.Configuration("worker needs a shared DATABASE_URL")
			}
			if workers > 0 {
				cfg.Workers = workers
			}

			ctx, cancel := signalContext()
			defer cancel()

			application, err := app.NewApp(ctx, cfg, log, app.RoleWorker)
			if err != nil {
				log.Error("startup failed", "err", err)
				return err
			}
			defer application.Close()

			application.StartWorkers(ctx)
			<-ctx.Done()
			log.Info("worker shutting down")
			return nil
		},
	}
	worker.Flags().IntVar(&workers, "workers", 0, "concurrent consumers (default $WORKERS)")

	return worker
}

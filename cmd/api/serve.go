package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docuiq/internal/app"
	"github.com/markdave123-py/docuiq/internal/core"
)

func serveCMD() *cobra.Command {
	var port string
	var noWorkers bool
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Run the HTTP API. With the memory queue the ingest workers run in the same\n" +
			"process; with QUEUE_BACKEND=redis they can run separately under `worker`.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if cfg.JWTSecret == "" {
				return core.Configuration("JWT_SECRET not set")
			}

			ctx, cancel := signalContext()
			defer cancel()

			application, err := app.NewApp(ctx, cfg, log, app.RoleServe)
			if err != nil {
				log.Error("startup failed", "err", err)
				return err
			}
			defer application.Close()

			if cfg.QueueBackend == "memory" || !noWorkers {
				application.StartWorkers(ctx)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- application.Server.Start() }()

			select {
			case err = <-errCh:
				cancel()
				return err
			case <-ctx.Done():
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
			defer stop()
			return application.Server.Shutdown(shutdownCtx)
		},
	}
	serve.Flags().StringVar(&port, "port", "", "listen port (default $PORT)")
	serve.Flags().BoolVar(&noWorkers, "no-workers", false, "do not consume the redis queue in this process")

	return serve
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smartqrhealth/backend/internal/api/handlers"
	"github.com/smartqrhealth/backend/internal/api/routes"
	"github.com/smartqrhealth/backend/internal/application/services"
)

func newServeCommand() *cobra.Command {
	var (
		shutdownTimeout time.Duration
		noRetry         bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the AI retry worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			router := routes.NewRouter(
				handlers.NewPatientAIHandler(a.processor, a.views),
				handlers.NewReportHandler(a.analysis, a.validation),
				handlers.NewAssistantHandler(a.assistant),
				handlers.NewInsightHandler(a.search),
				handlers.NewSSEHandler(a.eventBus),
				cfg.Server.AllowedOrigins,
				a.metrics,
			)

			srv := &http.Server{
				Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				Handler:      router.SetupRoutes(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 0, // event streams stay open
				IdleTimeout:  60 * time.Second,
			}

			if cfg.AIJobs.RetryEnabled && !noRetry {
				a.worker.Start(context.Background())
			}

			serverErr := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage.Driver).Msg("Starting server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
				close(serverErr)
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("Shutting down server...")
			case err := <-serverErr:
				if err != nil {
					stopWorker(a.worker, shutdownTimeout)
					return fmt.Errorf("server failed: %w", err)
				}
			}

			stopWorker(a.worker, shutdownTimeout)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			log.Info().Msg("Server exited")
			return nil
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "do not start the AI retry worker")

	return cmd
}

// stopWorker stops the retry worker, waiting at most timeout for an in-flight scan.
func stopWorker(worker *services.AIRetryWorker, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := worker.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Retry worker did not stop in time")
		return err
	}
	return nil
}

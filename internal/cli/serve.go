package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/eshaffer321/ledger-reconcile/internal/api"
	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/config"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// jobCleanupInterval is how often stale and old jobs are swept.
const jobCleanupInterval = 5 * time.Minute

// RunServe runs the API server until ctx is cancelled, then shuts it down
// gracefully.
func RunServe(ctx context.Context, cfg *config.Config, repo storage.Repository, svc *reconcile.Service, logger *slog.Logger) error {
	jobs := reconcile.NewJobService(svc, logger.With("system", "jobs"))
	jobs.StartBackgroundCleanup(jobCleanupInterval)
	defer jobs.StopBackgroundCleanup()

	server := api.NewServer(APIConfig(cfg), repo, svc.Linker(), jobs, logger.With("system", "api"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
	}()

	// blocks until Shutdown
	if err := server.Start(); err != nil {
		return err
	}

	<-done
	logger.Info("server stopped")
	return nil
}

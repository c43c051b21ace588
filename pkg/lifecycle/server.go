// Package lifecycle runs a service until a shutdown signal or failure.
package lifecycle

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/d1childress/neo/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Service defines the interface that all services must implement.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// Run starts the service and blocks until SIGINT/SIGTERM or a service
// error, then stops it with a bounded grace period.
func Run(ctx context.Context, name string, svc Service, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("service", name).Msg("starting service")

	errCh := make(chan error, 1)

	go func() {
		if err := svc.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	var runErr error

	select {
	case <-ctx.Done():
		log.Info().Str("service", name).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Str("service", name).Msg("service error")
		runErr = err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Stop(stopCtx); err != nil {
		if runErr != nil {
			return fmt.Errorf("stop failed after service error %w: %w", runErr, err)
		}

		return fmt.Errorf("failed to stop service: %w", err)
	}

	log.Info().Str("service", name).Msg("shutdown complete")

	return runErr
}

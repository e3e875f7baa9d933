package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to stop the poller and pending deadline timers
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	err = a.scheduler.Close()
	if err != nil {
		a.logger.Error("scheduler-close-error", zap.Error(err))
	}

	err = a.hub.Close()
	if err != nil {
		a.logger.Error("notify-hub-close-error", zap.Error(err))
	}

	err = a.publisher.Close()
	if err != nil {
		a.logger.Error("publisher-close-error", zap.Error(err))
	}

	err = a.store.Close()
	if err != nil {
		a.logger.Error("store-close-error", zap.Error(err))
	}

	// Wait for all goroutines
	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return nil
}

package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"metal-detector/internal/common/logging"
	"metal-detector/internal/config"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server
const shutdownTimeout = 30 * time.Second

// Run is the main entry point for the application
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize logging
	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting metal detector",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("token_store", cfg.TokenStore),
	)

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	registrations, err := config.LoadRegistrations(cfg.RegistrationsFile)
	if err != nil {
		logging.Error("Failed to load client registrations", err,
			logging.String("path", cfg.RegistrationsFile),
		)
		return err
	}

	app, err := New(cfg, registrations)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Serve(ctx)
}

// Serve runs the HTTP server and the scheduler until ctx is cancelled or
// either of them fails
func (app *App) Serve(ctx context.Context) error {
	srv := app.NewServer()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		return app.Scheduler.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("Server forced to shutdown", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Error("Server stopped with error", err)
		return err
	}
	logging.Info("Server exited")
	return nil
}

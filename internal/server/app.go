// Package server initializes and runs the feedkeeper server.
// It opens the configured metadata and content backends, serves the gRPC
// API and shuts down gracefully on SIGINT, SIGTERM or SIGQUIT.
package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/config"

	gs "github.com/dmitrijs2005/feedkeeper/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	backend *Backend
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.New(c.LogFormat, c.LogLevel, os.Stdout)

	b, err := OpenBackend(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	return &App{config: c, logger: logger, backend: b}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	b := app.backend
	s, err := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, b.Entries, b.Feeds, b.Aggregates, b.Batch, app.config.SecretKey)

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	} else {

		if err := s.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}
}

// Run serves until ctx is cancelled or a shutdown signal arrives, then
// closes the backend.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrGRPC,
		"metadata", app.config.MetadataBackend, "content", app.config.ContentBackend)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.backend.Close(); err != nil {
		app.logger.Error(ctx, "close backend", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	applogger "CryptoRelay/pkg/logger"
)

// Relay is the upstream-to-downstream loop.
type Relay interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Closer stops a component within ctx.
type Closer interface {
	Close(ctx context.Context) error
}

// Pipeline is the background sink worker.
type Pipeline interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

// HTTPServer serves the REST and WebSocket endpoints.
type HTTPServer interface {
	Start() <-chan error
	Stop(ctx context.Context) error
}

// Components are the pieces App starts and stops. Pipeline and Sinks are optional.
type Components struct {
	Relay           Relay
	Hub             Closer
	Pipeline        Pipeline
	HTTP            HTTPServer
	Sinks           []io.Closer
	ShutdownTimeout time.Duration
}

// App encapsulates the entire application lifecycle.
type App struct {
	c   Components
	log *applogger.Logger
}

// New creates a new App instance with all dependencies.
func New(c Components, log *applogger.Logger) *App {
	if log == nil {
		log = applogger.Nop()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return &App{c: c, log: log}
}

// Run starts the application and blocks until interrupted, ctx is done or the
// HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.c.Pipeline != nil {
		a.c.Pipeline.Start(runCtx)
	}
	if err := a.c.Relay.Start(runCtx); err != nil {
		a.log.Error("relay start error", applogger.Error(err))
		return errors.Join(err, a.shutdown())
	}
	httpErr := a.c.HTTP.Start()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err, ok := <-httpErr:
		if ok && err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	return errors.Join(runErr, a.shutdown())
}

// shutdown stops the upstream first, then subscribers, sinks and HTTP.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.c.ShutdownTimeout)
	defer cancel()
	a.log.Info("shutting down...")

	var errs []error
	if err := a.c.Relay.Shutdown(ctx); err != nil {
		a.log.Warn("relay stop error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.c.Hub != nil {
		if err := a.c.Hub.Close(ctx); err != nil {
			a.log.Warn("ws hub close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.c.Pipeline != nil {
		if err := a.c.Pipeline.Stop(ctx); err != nil {
			a.log.Warn("sink pipeline stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	a.log.RemoveCollector()
	for _, s := range a.c.Sinks {
		if err := s.Close(); err != nil {
			a.log.Warn("sink close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

// Package server runs the HTTP server until a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Options tunes Run. Zero values use ListenAndServe and SIGINT/SIGTERM.
type Options struct {
	ShutdownTimeout time.Duration
	Listener        net.Listener
	Signals         <-chan os.Signal
	// OnShutdown runs before the HTTP server stops accepting requests.
	OnShutdown func(ctx context.Context)
}

// Run serves until the server fails or a signal arrives, then shuts down
// gracefully, letting in-flight requests finish within ShutdownTimeout.
func Run(server *http.Server, logger *zap.Logger, opts Options) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.Listener != nil {
			err = server.Serve(opts.Listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := opts.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))

		timeout := opts.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if opts.OnShutdown != nil {
			opts.OnShutdown(ctx)
		}
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

// Package server runs the HTTP and gRPC listeners until a shutdown signal.
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
	"google.golang.org/grpc"
)

// Options controls how Serve runs. Nil listeners are created from the server
// addresses; a nil Signals channel subscribes to SIGINT and SIGTERM.
type Options struct {
	ShutdownTimeout time.Duration
	HTTPListener    net.Listener
	GRPCServer      *grpc.Server
	GRPCListener    net.Listener
	Signals         <-chan os.Signal
}

// Serve blocks until the HTTP server fails or a signal arrives, then drains
// in-flight requests within the shutdown timeout.
func Serve(server *http.Server, logger *zap.Logger, opts Options) error {
	errCh := make(chan error, 2)
	go func() {
		var err error
		if opts.HTTPListener != nil {
			err = server.Serve(opts.HTTPListener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	if opts.GRPCServer != nil && opts.GRPCListener != nil {
		go func() {
			if err := opts.GRPCServer.Serve(opts.GRPCListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("grpc server failed", zap.Error(err))
			}
		}()
	}

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if opts.Signals != nil {
		sigCh = opts.Signals
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		stopGRPC(opts.GRPCServer, opts.ShutdownTimeout)
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		stopGRPC(opts.GRPCServer, opts.ShutdownTimeout)
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

// stopGRPC drains the gRPC server, forcing it closed after timeout.
func stopGRPC(server *grpc.Server, timeout time.Duration) {
	if server == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		server.Stop()
	}
}

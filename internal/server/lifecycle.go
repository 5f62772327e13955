// Package server provides HTTP server utilities
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

	"github.com/lcrostarosa/entitlements/internal/logging"
)

// ShutdownTimeout is the default timeout for graceful shutdown
const ShutdownTimeout = 5 * time.Second

// GracefulServer wraps an http.Server with graceful shutdown
type GracefulServer struct {
	server       *http.Server
	beforeStop   []func()
	shutdownHook func()
	timeout      time.Duration
}

// GracefulServerOptions configures a GracefulServer
type GracefulServerOptions struct {
	// BeforeStop is called before shutdown starts, in order
	BeforeStop []func()
	// ShutdownHook is called after the server has stopped
	ShutdownHook func()
	// Timeout bounds graceful shutdown. Zero uses ShutdownTimeout.
	Timeout time.Duration
}

// NewGracefulServer creates a server wrapper with graceful shutdown
func NewGracefulServer(server *http.Server, opts *GracefulServerOptions) *GracefulServer {
	gs := &GracefulServer{server: server, timeout: ShutdownTimeout}
	if opts != nil {
		gs.beforeStop = opts.BeforeStop
		gs.shutdownHook = opts.ShutdownHook
		if opts.Timeout > 0 {
			gs.timeout = opts.Timeout
		}
	}
	if server.ErrorLog == nil {
		server.ErrorLog = logging.StdLogger()
	}
	return gs
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (gs *GracefulServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Info("Server listening", logging.String("addr", ln.Addr().String()))

	select {
	case err, ok := <-errCh:
		if ok {
			logging.Error("Server error", logging.Err(err))
			return err
		}
		return nil
	case <-ctx.Done():
		return gs.Shutdown()
	}
}

// ListenAndServe listens on the server's address and serves until SIGINT or SIGTERM.
func (gs *GracefulServer) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	return gs.Serve(ctx, ln)
}

// Shutdown gracefully shuts down the server
func (gs *GracefulServer) Shutdown() error {
	logging.Info("Shutting down...")
	for _, fn := range gs.beforeStop {
		fn()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()
	if err := gs.server.Shutdown(ctx); err != nil {
		return err
	}

	if gs.shutdownHook != nil {
		gs.shutdownHook()
	}
	logging.Info("Server stopped")
	return nil
}

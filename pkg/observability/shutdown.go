package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager stops the HTTP server and then runs registered cleanup
// functions in reverse registration order
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedShutdown
}

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// Register adds a named cleanup function
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM and then shuts down
func (sm *ShutdownManager) WaitForSignal() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)
	return sm.Shutdown(context.Background())
}

// Shutdown stops the server and runs cleanup functions within the timeout
func (sm *ShutdownManager) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	sm.mu.Lock()
	funcs := make([]namedShutdown, len(sm.funcs))
	copy(funcs, sm.funcs)
	sm.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if err := f.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown of %s failed", f.name)
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		sm.logger.Infof("Shutdown of %s complete", f.name)
	}

	return errors.Join(errs...)
}

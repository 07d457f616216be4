package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc releases one resource during shutdown.
type ShutdownFunc func(context.Context) error

// ShutdownManager drains the bridge's HTTP listeners (API and
// health/metrics) and then runs the registered cleanup functions, all
// bounded by one timeout.
type ShutdownManager struct {
	logger          *Logger
	servers         map[string]*http.Server
	shutdownFuncs   []ShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// NewShutdownManager creates a manager; a zero timeout means 30s.
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		servers:         make(map[string]*http.Server),
		shutdownTimeout: timeout,
	}
}

// RegisterServer adds an HTTP server to drain during shutdown.
func (sm *ShutdownManager) RegisterServer(name string, server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers[name] = server
}

// RegisterShutdownFunc registers a cleanup function. Functions run
// concurrently after the servers have drained.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, fn)
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then shuts down within
// the configured timeout.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	return sm.Shutdown(ctx)
}

// Shutdown drains the servers and runs cleanup functions immediately.
// Exposed separately so error paths can shut down without a signal.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	servers := make(map[string]*http.Server, len(sm.servers))
	for name, server := range sm.servers {
		servers[name] = server
	}
	funcs := sm.shutdownFuncs
	sm.mu.Unlock()

	failed := sm.drainServers(ctx, servers)

	funcFailures, timedOut := sm.runShutdownFuncs(ctx, funcs)
	if timedOut {
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return fmt.Errorf("shutdown timeout reached")
	}
	failed += funcFailures

	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failed)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}

func (sm *ShutdownManager) drainServers(ctx context.Context, servers map[string]*http.Server) int {
	var failed int
	for name, server := range servers {
		sm.logger.Infof("Shutting down %s server", name)
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Errorf("%s server shutdown error", name)
			failed++
		}
	}
	return failed
}

// runShutdownFuncs runs the cleanup functions concurrently and counts
// failures. timedOut reports that ctx expired before they finished, in
// which case the count is not meaningful.
func (sm *ShutdownManager) runShutdownFuncs(ctx context.Context, funcs []ShutdownFunc) (failed int, timedOut bool) {
	var wg sync.WaitGroup
	errChan := make(chan error, len(funcs))

	for i, fn := range funcs {
		wg.Add(1)
		go func(index int, shutdownFn ShutdownFunc) {
			defer wg.Done()
			if err := shutdownFn(ctx); err != nil {
				sm.logger.WithError(err).Errorf("Shutdown function %d failed", index)
				errChan <- err
			}
		}(i, fn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return 0, true
	}

	close(errChan)
	for range errChan {
		failed++
	}
	return failed, false
}

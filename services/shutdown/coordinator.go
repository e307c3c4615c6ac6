package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sessionhost/logger"
)

type ShutdownHandler func(context.Context) error

type Coordinator struct {
	handlers     []ShutdownHandler
	handlerNames []string
	mu           sync.Mutex
	shutdownOnce sync.Once
	shutdownChan chan struct{}
	timeout      time.Duration
}

// NewCoordinator creates a new shutdown coordinator
func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{
		handlers:     make([]ShutdownHandler, 0),
		handlerNames: make([]string, 0),
		shutdownChan: make(chan struct{}),
		timeout:      timeout,
	}
}

// RegisterHandler registers a shutdown handler
func (c *Coordinator) RegisterHandler(name string, handler ShutdownHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, handler)
	c.handlerNames = append(c.handlerNames, name)

	logger.Info("Registered shutdown handler", zap.String("name", name))
}

// Start begins listening for shutdown signals
func (c *Coordinator) Start() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		c.Shutdown()
	}()
}

// Shutdown initiates graceful shutdown. Safe to call more than once.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger.Info("Starting graceful shutdown")
		close(c.shutdownChan)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.executeShutdown(ctx)
	})
}

// executeShutdown runs all shutdown handlers in LIFO order: the last
// registered handler is the first to run, so dependents shut down before
// the things they depend on.
func (c *Coordinator) executeShutdown(ctx context.Context) {
	var wg sync.WaitGroup
	errs := make(chan error, len(c.handlers))

	for i := len(c.handlers) - 1; i >= 0; i-- {
		wg.Add(1)
		func(idx int) {
			defer wg.Done()

			name := c.handlerNames[idx]
			handler := c.handlers[idx]

			logger.Info("Shutting down service", zap.String("name", name))

			handlerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := handler(handlerCtx); err != nil {
				logger.Error("Shutdown handler failed",
					zap.String("name", name),
					zap.Error(err))
				errs <- err
			} else {
				logger.Info("Service shutdown complete", zap.String("name", name))
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All services shut down gracefully")
	case <-ctx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
	}

	close(errs)

	errorCount := 0
	for err := range errs {
		if err != nil {
			errorCount++
		}
	}

	if errorCount > 0 {
		logger.Warn("Shutdown completed with errors", zap.Int("error_count", errorCount))
	}
}

// WaitForShutdown blocks until shutdown is initiated.
func (c *Coordinator) WaitForShutdown() {
	<-c.shutdownChan
}

// CreatePoolShutdown adapts a session pool's Shutdown into a ShutdownHandler.
func CreatePoolShutdown(pool interface{ Shutdown(context.Context) error }) ShutdownHandler {
	return func(ctx context.Context) error {
		logger.Info("Shutting down session pool")

		done := make(chan error, 1)
		go func() {
			done <- pool.Shutdown(ctx)
		}()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CreateHTTPServerShutdown creates shutdown handler for the HTTP server
func CreateHTTPServerShutdown(server interface{ Shutdown(context.Context) error }) ShutdownHandler {
	return func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server")
		return server.Shutdown(ctx)
	}
}

// CreateBroadcasterShutdown closes the capacity broadcaster's observer, if any.
func CreateBroadcasterShutdown(broadcaster interface{ Close() }) ShutdownHandler {
	return func(ctx context.Context) error {
		logger.Info("Closing capacity observer")

		done := make(chan struct{})
		go func() {
			broadcaster.Close()
			close(done)
		}()

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

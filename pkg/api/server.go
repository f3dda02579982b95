package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/pkg/api/handlers"
	"github.com/marmos91/calcache/pkg/metrics"
)

// Server provides the diagnostics HTTP API of the calendar engine.
//
// The server supports graceful shutdown; open event streams end when
// their request context is cancelled.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving requests.
//
// Defaults are applied here to ensure the server works correctly even when
// created directly (e.g., in tests). This is idempotent with the defaults
// applied during config loading.
//
// m may be nil to disable request metrics.
func NewServer(config APIConfig, engine handlers.Engine, m *metrics.Metrics) *Server {
	config.ApplyDefaults()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           NewRouter(engine, config, m),
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and returns.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the server fails to start or shutdown encounters an error
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("API server listen: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	// Event streams derive from this context so shutdown ends them.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	s.server.BaseContext = func(net.Listener) context.Context { return baseCtx }

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", logger.KeyAddress, ln.Addr().String())
		logger.Debug("API endpoints available",
			"health", fmt.Sprintf("http://localhost:%d/health", s.config.Port),
			"stats", fmt.Sprintf("http://localhost:%d/api/v1/stats", s.config.Port),
			"events", fmt.Sprintf("http://localhost:%d/api/v1/events", s.config.Port),
		)

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		cancelStreams()
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.KeyError, err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}

// Addr returns the bound address once Start is listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

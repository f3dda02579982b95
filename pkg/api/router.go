package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/pkg/api/handlers"
	apiMiddleware "github.com/marmos91/calcache/pkg/api/middleware"
	"github.com/marmos91/calcache/pkg/metrics"
)

// requestTimeout bounds every non-streaming request.
const requestTimeout = 30 * time.Second

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID and log context for request tracking
//   - Real IP extraction for proper client identification
//   - Prometheus request metrics keyed by route pattern (when m is non-nil)
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout, except on the event stream
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /api/v1/months - Resident months
//   - DELETE /api/v1/months - Invalidate every month
//   - GET /api/v1/months/{month} - Month snapshot (?wait=<duration>)
//   - DELETE /api/v1/months/{month} - Invalidate one month
//   - GET|POST /api/v1/viewport - Last viewport / report a viewport change
//   - GET /api/v1/stats - Engine statistics
//   - GET /api/v1/events - Server-Sent Events notification stream
func NewRouter(engine handlers.Engine, config APIConfig, m *metrics.Metrics) http.Handler {
	config.ApplyDefaults()

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(apiMiddleware.RequestContext)
	r.Use(middleware.RealIP)
	r.Use(m.Middleware(routePattern))
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.NotFound(w, "No route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.MethodNotAllowed(w, r.Method+" is not supported on "+r.URL.Path)
	})

	healthHandler := handlers.NewHealthHandler(engine)
	monthHandler := handlers.NewMonthHandler(engine, config.MaxWait)
	viewportHandler := handlers.NewViewportHandler(engine)
	statsHandler := handlers.NewStatsHandler(engine)
	eventsHandler := handlers.NewEventsHandler(engine, config.KeepaliveInterval, 0)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/health", func(r chi.Router) {
			r.Get("/", healthHandler.Liveness)
			r.Get("/ready", healthHandler.Readiness)
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/months", func(r chi.Router) {
				r.Get("/", monthHandler.List)
				r.Delete("/", monthHandler.InvalidateAll)
				r.Get("/{month}", monthHandler.Get)
				r.Delete("/{month}", monthHandler.Invalidate)
			})
			r.Get("/viewport", viewportHandler.Get)
			r.Post("/viewport", viewportHandler.Update)
			r.Get("/stats", statsHandler.Get)
		})

		// Root redirect to health for convenience
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
		})
	})

	r.Get("/api/v1/events", eventsHandler.Stream)

	return r
}

// routePattern returns the matched chi route, or "unmatched" for 404s, so
// metric labels stay low-cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		logger.DebugCtx(ctx, "API request started",
			"method", r.Method,
			logger.KeyPath, r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.InfoCtx(ctx, "API request completed",
			"method", r.Method,
			logger.KeyPath, r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}

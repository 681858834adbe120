// Package httpapi exposes the parking lifecycle over REST, with a websocket
// stream for notices and events.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parkspot/tracker/internal/dispatcher"
	"github.com/parkspot/tracker/internal/handlers"
	"github.com/parkspot/tracker/internal/lifecycle"
	"github.com/parkspot/tracker/internal/notify"
)

// CommandDispatcher runs named commands, as *dispatcher.Dispatcher does.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, e dispatcher.Event) (any, error)
	Commands() []string
}

// Dependencies holds everything the router serves.
type Dependencies struct {
	Manager  *lifecycle.Manager
	Handlers *handlers.Service
	Commands CommandDispatcher
	Toaster  *notify.Toaster
	Stream   http.Handler
	Metrics  http.Handler
	Online   func() bool
	Logger   *slog.Logger
}

// Option configures the router
type Option func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the router
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewRouter builds the HTTP routes.
func NewRouter(deps Dependencies, opts ...Option) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	a := &api{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", a.health)

	r.Route("/locations", func(r chi.Router) {
		r.Get("/", a.listLocations)
		r.Post("/", a.createLocation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getLocation)
			r.Patch("/", a.updateLocation)
			r.Delete("/", a.deleteLocation)
			r.Post("/select", a.selectLocation)
			r.Post("/timer/extend", a.extendTimer)
			r.Delete("/timer", a.cancelTimer)
		})
	})

	if deps.Commands != nil {
		r.Get("/commands", a.listCommands)
		r.Post("/commands/{command}", a.runCommand)
	}

	r.Post("/sync", a.sync)
	r.Post("/connectivity", a.connectivity)
	r.Get("/notices", a.notices)
	r.Delete("/notices/{key}", a.dismissNotice)

	if deps.Stream != nil {
		r.Handle("/ws", deps.Stream)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	return r
}

// LoggingMiddleware logs HTTP requests at debug level.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.DebugContext(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

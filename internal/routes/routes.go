package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/handlers"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthTimeout bounds the store ping behind GET /health
const healthTimeout = 2 * time.Second

// HealthChecker reports whether the user store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP router
type Options struct {
	Env            string
	AllowedOrigins []string
	IPConfig       *pkghttp.IPConfig
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter builds the chi router with the middleware stack and all routes
func NewRouter(authHandler *handlers.AuthHandler, health HealthChecker, opts Options) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecureLogger(opts.Logger, opts.IPConfig))
	router.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		router.Use(middleware.Timeout(opts.RequestTimeout))
	}
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: opts.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(opts.AllowedOrigins)))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteResponse(w, pkghttp.NotFound("Not found"))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteResponse(w, pkghttp.Error(http.StatusMethodNotAllowed, "", "Method not allowed"))
	})

	RegisterRoutes(router, authHandler, health, opts.Logger)

	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, authHandler *handlers.AuthHandler, health HealthChecker, logger *slog.Logger) {
	router.Post("/auth/register", authHandler.Register)
	router.Post("/auth/login", authHandler.Login)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := health.Ping(ctx); err != nil {
			logger.Warn("health check failed", slog.Any("error", err))
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}

		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
}

package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"trustgate/internal/models"
	"trustgate/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics" &&
					r.URL.Path != "/api/v1/openapi.yaml" &&
					r.URL.Path != "/api/v1/docs"
			}),
		))
	}
}

// WithAnonymousLimiter rate limits unauthenticated requests by client IP.
func WithAnonymousLimiter(limiter *ratelimit.IPLimiter) RouteOption {
	return func(r *mux.Router) {
		r.Use(anonymousLimitMiddleware(limiter))
	}
}

// SetupRoutes configures the HTTP routes for the gateway.
func SetupRoutes(handlers *Handlers, gate *Gate, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	// Ban checks run before everything else, including public routes.
	router.Use(gate.Screen())

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	// The trap path is never advertised; any hit earns a ban. It answers
	// every method so probes see a consistent surface.
	router.HandleFunc(config.Guard.TrapPath, handlers.Trap)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")

	contextAPI := api.PathPrefix("/context").Subrouter()
	contextAPI.Use(gate.Protect("context"))
	contextAPI.HandleFunc("", handlers.Context).Methods("GET")

	usageAPI := api.PathPrefix("/usage").Subrouter()
	usageAPI.Use(gate.Protect(""))
	usageAPI.HandleFunc("", handlers.Usage).Methods("GET")

	adminAPI := api.PathPrefix("/admin").Subrouter()
	adminAPI.Use(gate.Protect("admin"))
	adminAPI.HandleFunc("/keys", handlers.ListKeys).Methods("GET")
	adminAPI.HandleFunc("/keys", handlers.CreateKey).Methods("POST")
	adminAPI.HandleFunc("/keys/{id}", handlers.GetKey).Methods("GET")
	adminAPI.HandleFunc("/keys/{id}", handlers.UpdateKey).Methods("PATCH")
	adminAPI.HandleFunc("/keys/{id}", handlers.DeleteKey).Methods("DELETE")
	adminAPI.HandleFunc("/keys/{id}/rotate", handlers.RotateKey).Methods("POST")
	adminAPI.HandleFunc("/usage", handlers.UsageReport).Methods("GET")
	adminAPI.HandleFunc("/logs", handlers.AccessLogs).Methods("GET")

	api.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}).Methods("OPTIONS")

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	errorResp := models.NewErrorResponse(models.ErrorKindBadRequest, "method not allowed")
	_ = json.NewEncoder(w).Encode(errorResp)
}

// corsMiddleware handles Cross-Origin Resource Sharing
func corsMiddleware(corsConfig models.CORSConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(corsConfig.AllowedOrigins) > 0 {
				origin := r.Header.Get("Origin")
				if origin != "" && (contains(corsConfig.AllowedOrigins, "*") || contains(corsConfig.AllowedOrigins, origin)) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
			}
			if len(corsConfig.AllowedMethods) > 0 {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(corsConfig.AllowedMethods, ", "))
			}
			if len(corsConfig.AllowedHeaders) > 0 {
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(corsConfig.AllowedHeaders, ", "))
			}
			if corsConfig.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", corsConfig.MaxAge))
			}
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse(models.ErrorKindInternal, "internal server error")
				_ = json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

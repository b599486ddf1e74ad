package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"trustgate/internal/audit"
	"trustgate/internal/guard"
	"trustgate/internal/models"
	"trustgate/internal/observability"
	"trustgate/internal/ratelimit"
	"trustgate/internal/registry"
	"trustgate/internal/storage"
	"trustgate/internal/version"
)

// Handlers contains the HTTP handlers for the gateway API.
type Handlers struct {
	store    storage.Store
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	guard    *guard.Guard
	sink     *audit.Sink
	metrics  *observability.GatewayMetrics
	logger   *slog.Logger

	// contextHandler is the injected business handler served behind
	// /api/v1/context. When nil a minimal identity echo is served.
	contextHandler http.Handler
}

// NewHandlers creates a new handlers instance. metrics and contextHandler
// may be nil.
func NewHandlers(store storage.Store, reg *registry.Registry, limiter *ratelimit.Limiter, g *guard.Guard, sink *audit.Sink, metrics *observability.GatewayMetrics, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:    store,
		registry: reg,
		limiter:  limiter,
		guard:    g,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetContextHandler installs the business handler served behind the gated
// context endpoint.
func (h *Handlers) SetContextHandler(handler http.Handler) {
	h.contextHandler = handler
}

// HealthCheck handles GET /health and GET /api/v1/health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version

	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		response.Status = models.StatusUnhealthy
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		status = http.StatusServiceUnavailable
	} else {
		response.AddComponent("storage", models.StatusHealthy, "storage is operational")
	}
	response.AddComponent("api", models.StatusHealthy, "api is operational")

	h.writeJSONResponse(w, status, response)
}

// Usage handles GET /api/v1/usage. It reports the caller's own counter
// totals without charging them.
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r)
	if identity == nil {
		h.writeErrorResponse(w, http.StatusForbidden, models.ErrorKindUnauthorized, "API key missing")
		return
	}

	usage, err := h.limiter.Usage(r.Context(), identity.Key.KeyHash)
	if err != nil {
		h.logger.Error("usage lookup failed", slog.String("error", err.Error()))
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "internal error")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.UsageResponse{
		OwnerID:     identity.Key.OwnerID,
		DailyCount:  usage.DailyCount,
		DailyLimit:  identity.Key.DailyLimit,
		MinuteCount: usage.MinuteCount,
		MinuteLimit: identity.Key.MinuteLimit,
		ResetAt:     usage.DailyResetAt.Unix(),
	})
}

// Context handles GET /api/v1/context. The gateway's job ends at
// admission; the payload comes from the injected business handler. The
// built-in fallback echoes the caller's identity so the endpoint works
// out of the box.
func (h *Handlers) Context(w http.ResponseWriter, r *http.Request) {
	if h.contextHandler != nil {
		h.contextHandler.ServeHTTP(w, r)
		return
	}

	identity := IdentityFrom(r)
	if identity == nil {
		h.writeErrorResponse(w, http.StatusForbidden, models.ErrorKindUnauthorized, "API key missing")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]any{
		"owner_id": identity.Key.OwnerID,
		"tier":     identity.Key.Tier,
		"scopes":   identity.Key.Scopes,
	})
}

// Trap handles requests to the trap path. The path appears nowhere in the
// documentation, so anything that requests it found it by scraping. The
// caller's IP and key are banned and the response pretends the probe
// succeeded.
func (h *Handlers) Trap(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	keyHash := ""
	if token := bearerToken(r); token != "" {
		keyHash = models.HashAPIKey(token)
	}

	h.guard.RecordTrapHit(ip, keyHash)
	h.metrics.RecordTrapHit(r.Context())
	h.sink.Record(r.Context(), "trap", r.URL.Path, http.StatusOK, ip)

	h.writeJSONResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"debug":  "enabled",
	})
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more to send.
		h.logger.Error("encoding response failed", slog.String("error", err.Error()))
	}
}

// writeErrorResponse writes a structured rejection body.
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, kind, reason string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(kind, reason))
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"trustgate/internal/models"
	"trustgate/internal/ratelimit"
	"trustgate/internal/registry"
	"trustgate/internal/storage"

	"github.com/gorilla/mux"
)

// createKeyRequest is the request body for POST /api/v1/admin/keys.
// Plan is required; the other fields override the plan's defaults.
type createKeyRequest struct {
	OwnerID     string     `json:"owner_id"`
	Plan        string     `json:"plan"`
	Scopes      []string   `json:"scopes,omitempty"`
	DailyLimit  int        `json:"daily_limit,omitempty"`
	MinuteLimit int        `json:"minute_limit,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// createKeyResponse includes the raw token, returned exactly once.
type createKeyResponse struct {
	keyResponse
	Token string `json:"token"`
}

// keyResponse is the metadata-only view (no raw token, no hash).
type keyResponse struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Prefix      string      `json:"prefix"`
	Scopes      []string    `json:"scopes"`
	Tier        models.Tier `json:"tier"`
	DailyLimit  int         `json:"daily_limit"`
	MinuteLimit int         `json:"minute_limit"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}

// updateKeyRequest is the request body for PATCH /api/v1/admin/keys/{id}.
// All fields are optional; a plan change applies before field overrides.
type updateKeyRequest struct {
	Plan        string     `json:"plan,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	DailyLimit  *int       `json:"daily_limit,omitempty"`
	MinuteLimit *int       `json:"minute_limit,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClearExpiry bool       `json:"clear_expiry,omitempty"`
}

func keyToResponse(k *models.APIKey) keyResponse {
	return keyResponse{
		ID:          k.ID,
		OwnerID:     k.OwnerID,
		Prefix:      k.Prefix,
		Scopes:      k.Scopes,
		Tier:        k.Tier,
		DailyLimit:  k.DailyLimit,
		MinuteLimit: k.MinuteLimit,
		CreatedAt:   k.CreatedAt,
		UpdatedAt:   k.UpdatedAt,
		ExpiresAt:   k.ExpiresAt,
	}
}

// ListKeys handles GET /api/v1/admin/keys
func (h *Handlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.registry.List(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to list keys")
		return
	}
	resp := make([]keyResponse, len(keys))
	for i, k := range keys {
		resp[i] = keyToResponse(k)
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CreateKey handles POST /api/v1/admin/keys
func (h *Handlers) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorKindBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorKindBadRequest, "owner_id is required")
		return
	}

	key, rawToken, err := h.registry.Create(r.Context(), registry.CreateParams{
		OwnerID:     req.OwnerID,
		Plan:        req.Plan,
		Scopes:      req.Scopes,
		DailyLimit:  req.DailyLimit,
		MinuteLimit: req.MinuteLimit,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, registry.ErrUnknownPlan) {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorKindBadRequest, err.Error())
			return
		}
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to create key")
		return
	}

	h.auditLog(r, "create", key.ID, key.OwnerID)
	h.writeJSONResponse(w, http.StatusCreated, createKeyResponse{
		keyResponse: keyToResponse(key),
		Token:       rawToken,
	})
}

// GetKey handles GET /api/v1/admin/keys/{id}
func (h *Handlers) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorKindNotFound, "key not found")
		} else {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to fetch key")
		}
		return
	}
	h.writeJSONResponse(w, http.StatusOK, keyToResponse(key))
}

// UpdateKey handles PATCH /api/v1/admin/keys/{id}
func (h *Handlers) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorKindBadRequest, "invalid request body")
		return
	}

	key, err := h.registry.Update(r.Context(), id, registry.UpdateParams{
		Plan:        req.Plan,
		Scopes:      req.Scopes,
		DailyLimit:  req.DailyLimit,
		MinuteLimit: req.MinuteLimit,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorKindNotFound, "key not found")
		case errors.Is(err, registry.ErrUnknownPlan):
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorKindBadRequest, err.Error())
		default:
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to update key")
		}
		return
	}

	h.auditLog(r, "update", key.ID, key.OwnerID)
	h.writeJSONResponse(w, http.StatusOK, keyToResponse(key))
}

// RotateKey handles POST /api/v1/admin/keys/{id}/rotate. The old token
// stops resolving immediately; the new one is returned exactly once.
func (h *Handlers) RotateKey(w http.ResponseWriter, r *http.Request) {
	key, rawToken, err := h.registry.Rotate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorKindNotFound, "key not found")
		} else {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to rotate key")
		}
		return
	}

	h.auditLog(r, "rotate", key.ID, key.OwnerID)
	h.writeJSONResponse(w, http.StatusOK, createKeyResponse{
		keyResponse: keyToResponse(key),
		Token:       rawToken,
	})
}

// DeleteKey handles DELETE /api/v1/admin/keys/{id}
func (h *Handlers) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorKindNotFound, "key not found")
		} else {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to delete key")
		}
		return
	}

	h.auditLog(r, "revoke", id, "")
	w.WriteHeader(http.StatusNoContent)
}

// UsageReport handles GET /api/v1/admin/usage. It aggregates counter
// usage across every known key without charging any of them.
func (h *Handlers) UsageReport(w http.ResponseWriter, r *http.Request) {
	keys, err := h.registry.List(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to list keys")
		return
	}

	refs := make([]ratelimit.KeyRef, len(keys))
	for i, k := range keys {
		refs[i] = ratelimit.KeyRef{
			Key:         k.KeyHash,
			OwnerID:     k.OwnerID,
			DailyLimit:  k.DailyLimit,
			MinuteLimit: k.MinuteLimit,
		}
	}

	report, err := h.limiter.Report(r.Context(), refs)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to build usage report")
		return
	}

	resp := models.UsageReportResponse{
		TotalKeys:          report.TotalKeys,
		TotalDailyRequests: report.TotalDailyRequests,
		Keys:               make([]models.UsageResponse, len(report.PerKey)),
	}
	for i, ku := range report.PerKey {
		resp.Keys[i] = models.UsageResponse{
			OwnerID:     ku.OwnerID,
			DailyCount:  ku.DailyCount,
			DailyLimit:  ku.DailyLimit,
			MinuteCount: ku.MinuteCount,
			MinuteLimit: ku.MinuteLimit,
			ResetAt:     ku.DailyResetAt.Unix(),
		}
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// AccessLogs handles GET /api/v1/admin/logs. Entries come back newest
// first; ?limit caps the result.
func (h *Handlers) AccessLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if param := r.URL.Query().Get("limit"); param != "" {
		n, err := strconv.Atoi(param)
		if err != nil || n < 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorKindBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.sink.Recent(r.Context(), limit)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorKindInternal, "failed to read access log")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, entries)
}

// auditLog emits a structured security audit event for an admin action.
func (h *Handlers) auditLog(r *http.Request, action, keyID, ownerID string) {
	actor := "unknown"
	if identity := IdentityFrom(r); identity != nil {
		actor = identity.Key.ID
	}
	h.logger.Info("api key "+action,
		slog.String("event", "security_audit"),
		slog.String("action", action),
		slog.String("key_id", keyID),
		slog.String("owner_id", ownerID),
		slog.String("actor_key_id", actor),
	)
}

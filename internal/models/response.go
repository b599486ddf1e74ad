// Package models - API response types and error handling.
// All outgoing response structures share a consistent JSON shape; rejection
// bodies never leak which authentication sub-case failed.
package models

import "time"

// ErrorResponse is the structured rejection body returned to clients.
// Reason is deliberately generic for authentication failures so callers
// cannot enumerate valid tokens.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Period string `json:"period,omitempty"`
}

// Error kinds used in ErrorResponse.Error.
const (
	ErrorKindUnauthorized = "unauthorized"
	ErrorKindRateLimit    = "rate_limit"
	ErrorKindForbidden    = "forbidden"
	ErrorKindBadSignature = "bad_signature"
	ErrorKindBadRequest   = "bad_request"
	ErrorKindNotFound     = "not_found"
	ErrorKindInternal     = "internal_error"
)

// NewErrorResponse builds a rejection body with a generic reason.
func NewErrorResponse(kind, reason string) *ErrorResponse {
	return &ErrorResponse{Error: kind, Reason: reason}
}

// NewRateLimitResponse builds the 429 body including the exceeded limit and
// its period ("24h" or "1m").
func NewRateLimitResponse(limit int, period string) *ErrorResponse {
	return &ErrorResponse{Error: ErrorKindRateLimit, Limit: limit, Period: period}
}

// UsageResponse reports one key's current counter totals. Read-only; the
// report never charges the counters it describes.
type UsageResponse struct {
	OwnerID     string `json:"owner_id"`
	DailyCount  int    `json:"daily_count"`
	DailyLimit  int    `json:"daily_limit"`
	MinuteCount int    `json:"minute_count"`
	MinuteLimit int    `json:"minute_limit"`
	ResetAt     int64  `json:"reset_at"`
}

// UsageReportResponse aggregates usage across all known keys for operator
// dashboards.
type UsageReportResponse struct {
	TotalKeys          int             `json:"total_keys"`
	TotalDailyRequests int             `json:"total_daily_requests"`
	Keys               []UsageResponse `json:"keys"`
}

// HealthCheckResponse is returned by the public health endpoints.
type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth describes one subsystem inside a health response.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// NewHealthCheckResponse builds a health response with an empty component map.
func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

// AddComponent records the health of one subsystem.
func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{Status: status, Message: message}
}

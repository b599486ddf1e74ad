package auth

import (
	"fmt"
	"net/http"

	"trustgate/internal/models"
)

// ErrorKind classifies an authentication failure.
type ErrorKind int

const (
	// KindMissingCredential means no token was presented.
	KindMissingCredential ErrorKind = iota
	// KindInvalidToken means the token resolves to no known key.
	KindInvalidToken
	// KindExpired means the key carries an expiry in the past.
	KindExpired
	// KindInsufficientScope means the key lacks the scope the endpoint requires.
	KindInsufficientScope
	// KindRateLimited means a window limit rejected the request.
	KindRateLimited
	// KindInternal covers storage or counter backend failures.
	KindInternal
)

// String returns a stable label for metrics and logs.
func (k ErrorKind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindInvalidToken:
		return "invalid_token"
	case KindExpired:
		return "expired"
	case KindInsufficientScope:
		return "insufficient_scope"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a typed authentication failure. Translation to an HTTP status
// and response body happens in exactly one place, at the API boundary.
// Reasons stay deliberately vague for anything identity-related so that
// callers cannot distinguish unknown, revoked, and expired credentials
// beyond what the original reasons expose.
type Error struct {
	Kind   ErrorKind
	Reason string
	// Limit and Period are set for rate limit failures only.
	Limit  int
	Period string
	// RetryAt is the window reset for rate limit failures, unix seconds.
	RetryAt int64

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.cause)
	}
	return "auth: " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the failure to its response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

// Response builds the JSON error body for the failure.
func (e *Error) Response() *models.ErrorResponse {
	switch e.Kind {
	case KindRateLimited:
		return models.NewRateLimitResponse(e.Limit, e.Period)
	case KindInternal:
		return models.NewErrorResponse(models.ErrorKindInternal, "internal error")
	default:
		return models.NewErrorResponse(models.ErrorKindUnauthorized, e.Reason)
	}
}

func missingCredential() *Error {
	return &Error{Kind: KindMissingCredential, Reason: "API key missing"}
}

func invalidToken() *Error {
	return &Error{Kind: KindInvalidToken, Reason: "invalid token"}
}

func expiredToken() *Error {
	return &Error{Kind: KindExpired, Reason: "token expired"}
}

func insufficientScope() *Error {
	return &Error{Kind: KindInsufficientScope, Reason: "insufficient scope"}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Reason: "internal error", cause: err}
}

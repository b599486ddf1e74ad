// Package auth validates API tokens and admits requests against their
// key's rate limits. All identity failures map to the same HTTP status so
// that probing cannot distinguish unknown keys from revoked or expired
// ones.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trustgate/internal/models"
	"trustgate/internal/ratelimit"
	"trustgate/internal/registry"
	"trustgate/internal/storage"
)

// Identity is the result of a successful authentication: the resolved key
// and the admission decision that charged this request.
type Identity struct {
	Key      *models.APIKey
	Decision ratelimit.Decision
}

// Authenticator validates tokens in a fixed order: presence, resolution,
// expiry, scope, then rate limit. Later checks never run once an earlier
// one fails, so a rejected request is never charged.
type Authenticator struct {
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(reg *registry.Registry, limiter *ratelimit.Limiter, logger *slog.Logger) *Authenticator {
	return &Authenticator{registry: reg, limiter: limiter, logger: logger, now: time.Now}
}

// Authenticate validates rawToken and charges the request against the
// key's limits. requiredScope may be empty for endpoints that only need a
// valid key. On failure the returned *Error carries the HTTP mapping.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken, requiredScope string) (*Identity, *Error) {
	if rawToken == "" {
		a.logger.Warn("API key missing")
		return nil, missingCredential()
	}

	key, err := a.registry.Lookup(ctx, rawToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("invalid API key")
			return nil, invalidToken()
		}
		a.logger.Error("key lookup failed", slog.String("error", err.Error()))
		return nil, internalError(err)
	}

	if key.Expired(a.now()) {
		a.logger.Warn("expired API key", slog.String("key_id", key.ID))
		return nil, expiredToken()
	}

	if requiredScope != "" && !key.HasScope(requiredScope) {
		a.logger.Warn("insufficient scope",
			slog.String("key_id", key.ID),
			slog.String("required", requiredScope),
		)
		return nil, insufficientScope()
	}

	decision, err := a.limiter.Check(ctx, key.KeyHash, key.DailyLimit, key.MinuteLimit)
	if err != nil {
		a.logger.Error("rate limit check failed", slog.String("error", err.Error()))
		return nil, internalError(err)
	}

	if decision.Kind != ratelimit.Allowed {
		a.logger.Warn("rate limit exceeded",
			slog.String("key_id", key.ID),
			slog.String("window", decision.Kind.String()),
		)
		return nil, rateLimited(decision)
	}

	return &Identity{Key: key, Decision: decision}, nil
}

// rateLimited maps a rejecting decision to its error, carrying the limit
// and period of whichever window rejected.
func rateLimited(decision ratelimit.Decision) *Error {
	limit := decision.DailyLimit
	period := "24h"
	if decision.Kind == ratelimit.MinuteExceeded {
		limit = decision.MinuteLimit
		period = "1m"
	}
	return &Error{
		Kind:    KindRateLimited,
		Reason:  "rate limit exceeded",
		Limit:   limit,
		Period:  period,
		RetryAt: decision.ResetAt.Unix(),
	}
}

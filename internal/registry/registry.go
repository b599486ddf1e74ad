// Package registry provisions and resolves API keys. Raw tokens are
// returned to the caller exactly once, at creation; only the hash is
// persisted, so a lost token cannot be recovered, only rotated.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trustgate/internal/models"
	"trustgate/internal/storage"
)

// ErrUnknownPlan is returned when a create or update names a plan that is
// not in the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

// Registry manages the API key lifecycle over a storage backend.
type Registry struct {
	store storage.Store
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// CreateParams describes a key to provision. Plan is required; the other
// fields override the plan's defaults when set.
type CreateParams struct {
	OwnerID     string
	Plan        string
	Scopes      []string
	DailyLimit  int
	MinuteLimit int
	ExpiresAt   *time.Time
}

// Create provisions a new key and returns the stored record together with
// the raw token. The token is not retained anywhere after this call.
func (r *Registry) Create(ctx context.Context, params CreateParams) (*models.APIKey, string, error) {
	plan, ok := PlanByName(params.Plan)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownPlan, params.Plan)
	}

	dailyLimit := plan.DailyLimit
	if params.DailyLimit > 0 {
		dailyLimit = params.DailyLimit
	}
	minuteLimit := plan.MinuteLimit
	if params.MinuteLimit > 0 {
		minuteLimit = params.MinuteLimit
	}
	scopes := plan.Scopes
	if len(params.Scopes) > 0 {
		scopes = params.Scopes
	}

	expiresAt := params.ExpiresAt
	if expiresAt == nil && plan.TTL > 0 {
		expiry := r.now().UTC().Add(plan.TTL)
		expiresAt = &expiry
	}

	rawToken, err := models.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	key := models.NewAPIKey(models.NewKeyID(), params.OwnerID, rawToken, scopes,
		dailyLimit, minuteLimit, models.TierForDailyLimit(dailyLimit), expiresAt)

	if err := r.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("store key: %w", err)
	}

	return key, rawToken, nil
}

// CreateWithToken provisions a key for a caller-supplied token instead of
// generating one. Used to seed the bootstrap key at startup; everything
// else should go through Create.
func (r *Registry) CreateWithToken(ctx context.Context, rawToken string, params CreateParams) (*models.APIKey, error) {
	plan, ok := PlanByName(params.Plan)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, params.Plan)
	}

	dailyLimit := plan.DailyLimit
	if params.DailyLimit > 0 {
		dailyLimit = params.DailyLimit
	}
	minuteLimit := plan.MinuteLimit
	if params.MinuteLimit > 0 {
		minuteLimit = params.MinuteLimit
	}
	scopes := plan.Scopes
	if len(params.Scopes) > 0 {
		scopes = params.Scopes
	}

	key := models.NewAPIKey(models.NewKeyID(), params.OwnerID, rawToken, scopes,
		dailyLimit, minuteLimit, models.TierForDailyLimit(dailyLimit), params.ExpiresAt)

	if err := r.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}

	return key, nil
}

// Lookup resolves a raw token to its stored key record. The token is
// hashed before touching storage.
func (r *Registry) Lookup(ctx context.Context, rawToken string) (*models.APIKey, error) {
	return r.store.GetAPIKeyByHash(ctx, models.HashAPIKey(rawToken))
}

// Get retrieves a key record by ID.
func (r *Registry) Get(ctx context.Context, id string) (*models.APIKey, error) {
	return r.store.GetAPIKeyByID(ctx, id)
}

// List returns all key records.
func (r *Registry) List(ctx context.Context) ([]*models.APIKey, error) {
	return r.store.ListAPIKeys(ctx)
}

// UpdateParams describes changes to an existing key. Nil fields are left
// unchanged. Plan, when set, replaces limits and scopes with the new
// plan's defaults before the other overrides apply.
type UpdateParams struct {
	Plan        string
	Scopes      []string
	DailyLimit  *int
	MinuteLimit *int
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// Update applies a plan change or field overrides to an existing key.
// Moving off a temporary plan clears the key's expiry unless a new one is
// given.
func (r *Registry) Update(ctx context.Context, id string, params UpdateParams) (*models.APIKey, error) {
	key, err := r.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Plan != "" {
		plan, ok := PlanByName(params.Plan)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, params.Plan)
		}
		key.DailyLimit = plan.DailyLimit
		key.MinuteLimit = plan.MinuteLimit
		key.Scopes = plan.Scopes
		if plan.TTL > 0 {
			expiry := r.now().UTC().Add(plan.TTL)
			key.ExpiresAt = &expiry
		} else {
			key.ExpiresAt = nil
		}
	}

	if params.DailyLimit != nil {
		key.DailyLimit = *params.DailyLimit
	}
	if params.MinuteLimit != nil {
		key.MinuteLimit = *params.MinuteLimit
	}
	if len(params.Scopes) > 0 {
		key.Scopes = params.Scopes
	}
	if params.ExpiresAt != nil {
		key.ExpiresAt = params.ExpiresAt
	}
	if params.ClearExpiry {
		key.ExpiresAt = nil
	}

	key.Tier = models.TierForDailyLimit(key.DailyLimit)

	if err := r.store.UpdateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Rotate replaces a key's token, returning the updated record and the new
// raw token. The old token stops resolving immediately.
func (r *Registry) Rotate(ctx context.Context, id string) (*models.APIKey, string, error) {
	key, err := r.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	rawToken, err := models.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	key.KeyHash = models.HashAPIKey(rawToken)
	key.Prefix = rawToken[:8]

	if err := r.store.UpdateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, rawToken, nil
}

// Revoke removes a key permanently. Revoked tokens fail resolution with
// the same error as tokens that never existed.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	return r.store.DeleteAPIKey(ctx, id)
}

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/models"
	"trustgate/internal/ratelimit"
	"trustgate/internal/registry"
	"trustgate/internal/storage"
)

type authFixture struct {
	auth *Authenticator
	reg  *registry.Registry
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	store, err := storage.NewMemoryStore(storage.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(time.Minute))
	t.Cleanup(limiter.Close)

	reg := registry.NewRegistry(store)
	return &authFixture{
		auth: NewAuthenticator(reg, limiter, slog.Default()),
		reg:  reg,
	}
}

func TestAuthenticator_ValidToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	key, token, err := f.reg.Create(ctx, registry.CreateParams{OwnerID: "alice", Plan: "free"})
	require.NoError(t, err)

	identity, authErr := f.auth.Authenticate(ctx, token, "")
	require.Nil(t, authErr)
	assert.Equal(t, key.ID, identity.Key.ID)
	assert.Equal(t, ratelimit.Allowed, identity.Decision.Kind)
	assert.Equal(t, 499, identity.Decision.DailyRemaining)
}

func TestAuthenticator_MissingToken(t *testing.T) {
	f := newAuthFixture(t)

	_, authErr := f.auth.Authenticate(context.Background(), "", "")
	require.NotNil(t, authErr)
	assert.Equal(t, KindMissingCredential, authErr.Kind)
	assert.Equal(t, http.StatusForbidden, authErr.HTTPStatus())
	assert.Equal(t, "API key missing", authErr.Reason)
}

func TestAuthenticator_UnknownToken(t *testing.T) {
	f := newAuthFixture(t)

	_, authErr := f.auth.Authenticate(context.Background(), "tg_definitely_not_issued", "")
	require.NotNil(t, authErr)
	assert.Equal(t, KindInvalidToken, authErr.Kind)
	assert.Equal(t, http.StatusForbidden, authErr.HTTPStatus())

	body := authErr.Response()
	assert.Equal(t, models.ErrorKindUnauthorized, body.Error)
	assert.Equal(t, "invalid token", body.Reason)
}

func TestAuthenticator_ExpiredToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, token, err := f.reg.Create(ctx, registry.CreateParams{OwnerID: "alice", Plan: "free_temp"})
	require.NoError(t, err)

	// Jump past the 7 day temporary-plan expiry.
	f.auth.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

	_, authErr := f.auth.Authenticate(ctx, token, "")
	require.NotNil(t, authErr)
	assert.Equal(t, KindExpired, authErr.Kind)
	assert.Equal(t, http.StatusForbidden, authErr.HTTPStatus())
	assert.Equal(t, "token expired", authErr.Reason)
}

func TestAuthenticator_InsufficientScope(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, token, err := f.reg.Create(ctx, registry.CreateParams{OwnerID: "alice", Plan: "free"})
	require.NoError(t, err)

	_, authErr := f.auth.Authenticate(ctx, token, "write:advanced")
	require.NotNil(t, authErr)
	assert.Equal(t, KindInsufficientScope, authErr.Kind)
	assert.Equal(t, http.StatusForbidden, authErr.HTTPStatus())
}

func TestAuthenticator_AdminScopeGrantsAll(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, token, err := f.reg.Create(ctx, registry.CreateParams{
		OwnerID: "ops",
		Plan:    "enterprise",
		Scopes:  []string{"admin"},
	})
	require.NoError(t, err)

	identity, authErr := f.auth.Authenticate(ctx, token, "write:advanced")
	require.Nil(t, authErr)
	assert.NotNil(t, identity)
}

func TestAuthenticator_RateLimited(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, token, err := f.reg.Create(ctx, registry.CreateParams{
		OwnerID:    "alice",
		Plan:       "free",
		DailyLimit: 2,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, authErr := f.auth.Authenticate(ctx, token, "")
		require.Nil(t, authErr)
	}

	_, authErr := f.auth.Authenticate(ctx, token, "")
	require.NotNil(t, authErr)
	assert.Equal(t, KindRateLimited, authErr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, authErr.HTTPStatus())

	body := authErr.Response()
	assert.Equal(t, models.ErrorKindRateLimit, body.Error)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, "24h", body.Period)
}

func TestAuthenticator_MinuteRateLimitPeriod(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, token, err := f.reg.Create(ctx, registry.CreateParams{
		OwnerID:     "alice",
		Plan:        "free",
		MinuteLimit: 1,
	})
	require.NoError(t, err)

	_, authErr := f.auth.Authenticate(ctx, token, "")
	require.Nil(t, authErr)

	_, authErr = f.auth.Authenticate(ctx, token, "")
	require.NotNil(t, authErr)
	assert.Equal(t, KindRateLimited, authErr.Kind)

	body := authErr.Response()
	assert.Equal(t, 1, body.Limit)
	assert.Equal(t, "1m", body.Period)
}

func TestAuthenticator_FailedChecksAreNotCharged(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, token, err := f.reg.Create(ctx, registry.CreateParams{
		OwnerID:    "alice",
		Plan:       "free",
		DailyLimit: 1,
	})
	require.NoError(t, err)

	// Scope failures happen before the limiter and must not consume quota.
	for i := 0; i < 3; i++ {
		_, authErr := f.auth.Authenticate(ctx, token, "write:advanced")
		require.NotNil(t, authErr)
		assert.Equal(t, KindInsufficientScope, authErr.Kind)
	}

	identity, authErr := f.auth.Authenticate(ctx, token, "")
	require.Nil(t, authErr)
	assert.Equal(t, ratelimit.Allowed, identity.Decision.Kind)
}

package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier classifies a key's service level. It drives the guard's response
// delay and is stored explicitly rather than inferred from limits.
type Tier string

const (
	TierFree       Tier = "free"
	TierPartner1   Tier = "partner_1"
	TierPartner2   Tier = "partner_2"
	TierEnterprise Tier = "enterprise"
)

// TierForDailyLimit derives a tier from a daily request limit using the
// historical plan thresholds. Used when an admin creates a key without
// naming a tier explicitly.
func TierForDailyLimit(dailyLimit int) Tier {
	switch {
	case dailyLimit >= 50000:
		return TierEnterprise
	case dailyLimit >= 10000:
		return TierPartner2
	case dailyLimit >= 3000:
		return TierPartner1
	default:
		return TierFree
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPartner1, TierPartner2, TierEnterprise:
		return true
	}
	return false
}

// APIKey represents a stored API key record. The raw token is never
// persisted; only its SHA-256 hex hash and an 8-character display prefix
// are stored. The raw token is returned to the caller exactly once, at
// creation time.
type APIKey struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	KeyHash     string     `json:"key_hash"`
	Prefix      string     `json:"prefix"`
	Scopes      []string   `json:"scopes"`
	Tier        Tier       `json:"tier"`
	DailyLimit  int        `json:"daily_limit"`
	MinuteLimit int        `json:"minute_limit"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// DefaultMinuteLimit is applied when a key is created without a per-minute
// limit of its own.
const DefaultMinuteLimit = 20

// NewAPIKey creates a new APIKey record from a raw token string.
func NewAPIKey(id, ownerID, rawToken string, scopes []string, dailyLimit, minuteLimit int, tier Tier, expiresAt *time.Time) *APIKey {
	now := time.Now().UTC()
	prefix := rawToken
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if minuteLimit <= 0 {
		minuteLimit = DefaultMinuteLimit
	}
	if !tier.Valid() {
		tier = TierForDailyLimit(dailyLimit)
	}
	return &APIKey{
		ID:          id,
		OwnerID:     ownerID,
		KeyHash:     HashAPIKey(rawToken),
		Prefix:      prefix,
		Scopes:      scopes,
		Tier:        tier,
		DailyLimit:  dailyLimit,
		MinuteLimit: minuteLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   expiresAt,
	}
}

// GenerateAPIKey produces a new random API token in the format tg_<44 url-safe base64 chars>.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 33) // 33 bytes → 44 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "tg_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey computes the SHA-256 hex digest of a raw API token.
func HashAPIKey(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// NewKeyID generates a new UUID v4 for use as an APIKey ID.
func NewKeyID() string {
	return uuid.New().String()
}

// Expired reports whether the key carries an expiry in the past.
func (ak *APIKey) Expired(now time.Time) bool {
	return ak.ExpiresAt != nil && !now.Before(*ak.ExpiresAt)
}

// HasScope returns true when the key possesses the required scope.
// The "admin" scope grants every other scope.
func (ak *APIKey) HasScope(required string) bool {
	for _, s := range ak.Scopes {
		switch s {
		case "*", "admin":
			return true
		case required:
			return true
		}
	}
	return false
}

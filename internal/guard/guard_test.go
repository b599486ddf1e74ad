package guard

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"trustgate/internal/models"
)

func newTestGuard(t *testing.T) (*Guard, *time.Time) {
	t.Helper()

	cfg := models.GuardConfig{
		Enabled:          true,
		TrapPath:         "/api/internal/seed_debug",
		BanDuration:      24 * time.Hour,
		PatternThreshold: 12,
		PatternWindow:    5 * time.Minute,
		PatternPenalty:   2 * time.Second,
		SignatureMaxSkew: 5 * time.Minute,
	}

	g := NewGuard(cfg, slog.Default())
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestGuard_BanIP(t *testing.T) {
	g, now := newTestGuard(t)

	assert.False(t, g.IPBanned("10.0.0.1"))

	g.BanIP("10.0.0.1")
	assert.True(t, g.IPBanned("10.0.0.1"))
	assert.False(t, g.IPBanned("10.0.0.2"))

	// Ban expires lazily after the configured duration.
	*now = now.Add(24*time.Hour + time.Second)
	assert.False(t, g.IPBanned("10.0.0.1"))
}

func TestGuard_BanKey(t *testing.T) {
	g, now := newTestGuard(t)

	g.BanKey("hash-1")
	assert.True(t, g.KeyBanned("hash-1"))
	assert.False(t, g.KeyBanned("hash-2"))

	*now = now.Add(25 * time.Hour)
	assert.False(t, g.KeyBanned("hash-1"))
}

func TestGuard_TrapHitBansIPAndKey(t *testing.T) {
	g, _ := newTestGuard(t)

	assert.True(t, g.TrapPath("/api/internal/seed_debug"))
	assert.False(t, g.TrapPath("/api/v1/context"))

	g.RecordTrapHit("10.0.0.1", "hash-1")
	assert.True(t, g.IPBanned("10.0.0.1"))
	assert.True(t, g.KeyBanned("hash-1"))
}

func TestGuard_TrapHitWithoutKey(t *testing.T) {
	g, _ := newTestGuard(t)

	g.RecordTrapHit("10.0.0.1", "")
	assert.True(t, g.IPBanned("10.0.0.1"))
}

func TestGuard_CrawlerUserAgent(t *testing.T) {
	g, _ := newTestGuard(t)

	tests := []struct {
		userAgent string
		want      bool
	}{
		{"curl/8.4.0", true},
		{"python-requests/2.31.0", true},
		{"Scrapy/2.11.0 (+https://scrapy.org)", true},
		{"Mozilla/5.0 (compatible; Googlebot/2.1)", true},
		{"Go-http-client/1.1", true},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, g.CrawlerUserAgent(tt.userAgent), "user agent %q", tt.userAgent)
	}
}

func TestGuard_PatternViolation(t *testing.T) {
	g, _ := newTestGuard(t)

	// Eleven distinct endpoints is under the threshold.
	for i := 0; i < 11; i++ {
		g.RecordAccess("hash-1", fmt.Sprintf("/api/v1/resource/%d", i))
	}
	assert.False(t, g.PatternViolation("hash-1"))

	g.RecordAccess("hash-1", "/api/v1/resource/11")
	assert.True(t, g.PatternViolation("hash-1"))
}

func TestGuard_PatternViolationIgnoresOldAccesses(t *testing.T) {
	g, now := newTestGuard(t)

	for i := 0; i < 12; i++ {
		g.RecordAccess("hash-1", fmt.Sprintf("/api/v1/resource/%d", i))
	}
	assert.True(t, g.PatternViolation("hash-1"))

	// Outside the window the same accesses no longer count.
	*now = now.Add(6 * time.Minute)
	assert.False(t, g.PatternViolation("hash-1"))
}

func TestGuard_PatternRepeatEndpointCountsOnce(t *testing.T) {
	g, _ := newTestGuard(t)

	// Hammering one endpoint is not an enumeration pattern.
	for i := 0; i < 50; i++ {
		g.RecordAccess("hash-1", "/api/v1/context")
	}
	assert.False(t, g.PatternViolation("hash-1"))
}

func TestGuard_PatternUnknownKey(t *testing.T) {
	g, _ := newTestGuard(t)
	assert.False(t, g.PatternViolation("never-seen"))
}

package guard

import (
	"context"
	"math/rand"
	"time"

	"trustgate/internal/models"
)

// TierDelay returns the randomized response delay for a service tier.
// Lower tiers get a small jittered delay, which makes bulk scraping on
// cheap keys slower without affecting interactive use.
func TierDelay(tier models.Tier) time.Duration {
	switch tier {
	case models.TierFree:
		return 50*time.Millisecond + time.Duration(rand.Int63n(int64(200*time.Millisecond)))
	case models.TierPartner1:
		return time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
	default:
		return 0
	}
}

// PenaltyDelay returns the soft-throttle delay applied on a pattern
// violation.
func (g *Guard) PenaltyDelay() time.Duration {
	return g.cfg.PatternPenalty
}

// Sleep waits for d or until ctx is done, whichever comes first. A zero or
// negative d returns immediately.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

package ratelimit

import (
	"context"
	"time"
)

// DecisionKind is the outcome of an admission check.
type DecisionKind int

const (
	Allowed DecisionKind = iota
	DailyExceeded
	MinuteExceeded
)

func (k DecisionKind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case DailyExceeded:
		return "daily_limit_exceeded"
	default:
		return "minute_limit_exceeded"
	}
}

// Decision is the result of one admission check. Remaining counts are
// meaningful when Kind is Allowed. ResetAt is the next reset of the
// exceeded counter on a rejection, and the next daily reset on an
// admission.
type Decision struct {
	Kind            DecisionKind
	DailyLimit      int
	MinuteLimit     int
	DailyRemaining  int
	MinuteRemaining int
	ResetAt         time.Time
}

// Usage reports one key's current counter totals without charging them.
type Usage struct {
	DailyCount   int
	MinuteCount  int
	DailyResetAt time.Time
}

// KeyRef identifies a key in an aggregate usage report.
type KeyRef struct {
	Key         string
	OwnerID     string
	DailyLimit  int
	MinuteLimit int
}

// KeyUsage pairs a key with its current usage.
type KeyUsage struct {
	KeyRef
	Usage
}

// Report aggregates usage across all known keys.
type Report struct {
	TotalKeys          int
	TotalDailyRequests int
	PerKey             []KeyUsage
}

// CounterStore holds windowed request counters. Implementations must make
// the whole check-then-increment sequence atomic for a single key: two
// concurrent calls must never both observe the last free slot.
type CounterStore interface {
	// CheckAndIncrement admits or rejects one request. On admission both
	// the daily and minute counters are incremented; on rejection neither
	// counter changes.
	CheckAndIncrement(ctx context.Context, key string, dailyLimit, minuteLimit int) (Decision, error)

	// Usage returns current totals without mutating any counter.
	Usage(ctx context.Context, key string) (Usage, error)

	// Close stops background work and releases resources.
	Close()
}

// Limiter makes admission decisions against a CounterStore.
type Limiter struct {
	store CounterStore
}

// NewLimiter creates a limiter over the given store.
func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// Check decides whether one request from key is admitted. Daily limits are
// evaluated before minute limits; a rejected request is free.
func (l *Limiter) Check(ctx context.Context, key string, dailyLimit, minuteLimit int) (Decision, error) {
	return l.store.CheckAndIncrement(ctx, key, dailyLimit, minuteLimit)
}

// Usage returns a read-only snapshot of one key's counters.
func (l *Limiter) Usage(ctx context.Context, key string) (Usage, error) {
	return l.store.Usage(ctx, key)
}

// Report aggregates usage across the given keys for operator dashboards.
func (l *Limiter) Report(ctx context.Context, keys []KeyRef) (Report, error) {
	report := Report{TotalKeys: len(keys), PerKey: make([]KeyUsage, 0, len(keys))}
	for _, ref := range keys {
		usage, err := l.store.Usage(ctx, ref.Key)
		if err != nil {
			return Report{}, err
		}
		report.TotalDailyRequests += usage.DailyCount
		report.PerKey = append(report.PerKey, KeyUsage{KeyRef: ref, Usage: usage})
	}
	return report, nil
}

// Close releases the underlying store.
func (l *Limiter) Close() {
	l.store.Close()
}

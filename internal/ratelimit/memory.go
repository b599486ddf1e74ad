package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is an in-memory CounterStore. A single mutex guards
// every counter read/modify pair, so the compare-and-increment in
// CheckAndIncrement and the periodic sweep can never race. A background
// goroutine sweeps expired buckets on a fixed interval.
type MemoryCounterStore struct {
	sweepInterval time.Duration
	now           func() time.Time

	mu       sync.Mutex
	counters map[string]map[BucketID]int // api key -> bucket -> count

	done   chan struct{}
	closed bool
}

// NewMemoryCounterStore creates a counter store and starts its sweep
// goroutine. A non-positive interval disables the background sweep;
// Sweep stays callable either way.
func NewMemoryCounterStore(sweepInterval time.Duration) *MemoryCounterStore {
	m := &MemoryCounterStore{
		sweepInterval: sweepInterval,
		now:           time.Now,
		counters:      make(map[string]map[BucketID]int),
		done:          make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.sweepLoop()
	}
	return m
}

// CheckAndIncrement admits or rejects one request for key. The whole
// read-compare-increment sequence runs under one lock acquisition.
func (m *MemoryCounterStore) CheckAndIncrement(_ context.Context, key string, dailyLimit, minuteLimit int) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	dailyCount := m.liveTotalLocked(key, KindDaily, now)
	if dailyCount >= dailyLimit {
		return Decision{
			Kind:        DailyExceeded,
			DailyLimit:  dailyLimit,
			MinuteLimit: minuteLimit,
			ResetAt:     BucketAt(KindDaily, now).NextStart(),
		}, nil
	}

	minuteCount := m.liveTotalLocked(key, KindMinute, now)
	if minuteCount >= minuteLimit {
		return Decision{
			Kind:        MinuteExceeded,
			DailyLimit:  dailyLimit,
			MinuteLimit: minuteLimit,
			ResetAt:     BucketAt(KindMinute, now).NextStart(),
		}, nil
	}

	buckets, ok := m.counters[key]
	if !ok {
		buckets = make(map[BucketID]int)
		m.counters[key] = buckets
	}
	buckets[BucketAt(KindDaily, now)]++
	buckets[BucketAt(KindMinute, now)]++

	return Decision{
		Kind:            Allowed,
		DailyLimit:      dailyLimit,
		MinuteLimit:     minuteLimit,
		DailyRemaining:  dailyLimit - (dailyCount + 1),
		MinuteRemaining: minuteLimit - (minuteCount + 1),
		ResetAt:         BucketAt(KindDaily, now).NextStart(),
	}, nil
}

// Usage returns current totals without mutating any counter.
func (m *MemoryCounterStore) Usage(_ context.Context, key string) (Usage, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	return Usage{
		DailyCount:   m.liveTotalLocked(key, KindDaily, now),
		MinuteCount:  m.liveTotalLocked(key, KindMinute, now),
		DailyResetAt: BucketAt(KindDaily, now).NextStart(),
	}, nil
}

// Total returns the current live total for one key and kind.
func (m *MemoryCounterStore) Total(key string, kind BucketKind) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveTotalLocked(key, kind, now)
}

// liveTotalLocked sums all live buckets of the given kind for key. Callers
// must hold m.mu. Stale buckets contribute nothing even before the sweep
// removes them.
func (m *MemoryCounterStore) liveTotalLocked(key string, kind BucketKind, now time.Time) int {
	total := 0
	for id, count := range m.counters[key] {
		if id.Kind == kind && id.Live(now) {
			total += count
		}
	}
	return total
}

// Sweep removes buckets whose age exceeds their retention window. It holds
// the lock for a single pass only.
func (m *MemoryCounterStore) Sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, buckets := range m.counters {
		for id := range buckets {
			if !id.Live(now) {
				delete(buckets, id)
			}
		}
		if len(buckets) == 0 {
			delete(m.counters, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (m *MemoryCounterStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *MemoryCounterStore) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

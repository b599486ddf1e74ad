package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipEntry holds a token bucket and its last access time for cleanup.
type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Info contains token-bucket state for populating response headers on
// anonymous requests.
type Info struct {
	Limit      int           // Maximum requests per window
	Remaining  int           // Approximate tokens remaining
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// IPLimiter is an in-memory token-bucket limiter keyed by client IP,
// applied to unauthenticated public paths. Each unique IP gets its own
// bucket. A background goroutine periodically evicts entries that have not
// been accessed within 2x the cleanup interval.
type IPLimiter struct {
	rate            rate.Limit
	burst           int
	limit           int // requests per minute, for Info.Limit
	cleanupInterval time.Duration

	mu      sync.Mutex
	entries map[string]*ipEntry
	done    chan struct{}
	closed  bool
}

// NewIPLimiter creates a limiter with the given requests-per-minute rate,
// burst size, and cleanup interval. It starts a background goroutine for
// eviction.
func NewIPLimiter(requestsPerMinute int, burst int, cleanupInterval time.Duration) *IPLimiter {
	l := &IPLimiter{
		rate:            rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:           burst,
		limit:           requestsPerMinute,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*ipEntry),
		done:            make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow checks whether a request from the given IP should be allowed.
func (l *IPLimiter) Allow(ip string) (bool, Info) {
	l.mu.Lock()
	e, exists := l.entries[ip]
	if !exists {
		e = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	allowed := e.limiter.Allow()

	now := time.Now()
	tokens := e.limiter.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	tokensNeeded := float64(l.burst) - tokens
	var resetAt time.Time
	if tokensNeeded > 0 {
		resetAt = now.Add(time.Duration(tokensNeeded / float64(l.rate) * float64(time.Second)))
	} else {
		resetAt = now
	}

	info := Info{
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !allowed {
		reservation := e.limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()
		info.RetryAfter = delay
	}

	return allowed, info
}

// Close stops the background cleanup goroutine.
func (l *IPLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *IPLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictStale()
		}
	}
}

// evictStale removes entries older than 2x the cleanup interval.
func (l *IPLimiter) evictStale() {
	cutoff := time.Now().Add(-2 * l.cleanupInterval)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, ip)
		}
	}
}

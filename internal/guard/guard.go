// Package guard implements abuse protection for the gateway: IP and key
// bans, a trap endpoint for crawler detection, user agent heuristics,
// endpoint-scan pattern detection, and request signature verification.
package guard

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"trustgate/internal/models"
)

// crawlerAgents are substrings matched case-insensitively against the
// User-Agent header. A match flags the request; it never blocks on its own.
var crawlerAgents = []string{
	"curl", "python", "scrapy", "wget", "go-http-client", "axios",
	"postman", "bot", "crawler", "spider", "scan", "selenium", "headless",
	"scraper", "beautifulsoup", "httpclient", "java", "playwright",
}

// Guard holds the mutable abuse-tracking state. Bans and pattern records
// are in-memory only and expire lazily; a restart wipes them, which is
// acceptable since the trap re-bans repeat offenders on their next visit.
type Guard struct {
	cfg    models.GuardConfig
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	ipBans      map[string]time.Time            // ip -> ban expiry
	keyBans     map[string]time.Time            // key hash -> ban expiry
	keyPatterns map[string]map[string]time.Time // key hash -> endpoint -> last access
	trapHits    map[string][]time.Time          // ip -> hit times
}

// NewGuard creates a guard with the given configuration.
func NewGuard(cfg models.GuardConfig, logger *slog.Logger) *Guard {
	return &Guard{
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		ipBans:      make(map[string]time.Time),
		keyBans:     make(map[string]time.Time),
		keyPatterns: make(map[string]map[string]time.Time),
		trapHits:    make(map[string][]time.Time),
	}
}

// IPBanned reports whether ip has an unexpired ban. Expired bans are
// removed on the way through.
func (g *Guard) IPBanned(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, banned := g.ipBans[ip]
	if !banned {
		return false
	}
	if g.now().Before(expiry) {
		return true
	}
	delete(g.ipBans, ip)
	return false
}

// KeyBanned reports whether the key hash has an unexpired ban.
func (g *Guard) KeyBanned(keyHash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, banned := g.keyBans[keyHash]
	if !banned {
		return false
	}
	if g.now().Before(expiry) {
		return true
	}
	delete(g.keyBans, keyHash)
	return false
}

// BanIP bans an IP for the configured duration.
func (g *Guard) BanIP(ip string) {
	g.mu.Lock()
	g.ipBans[ip] = g.now().Add(g.cfg.BanDuration)
	g.mu.Unlock()

	g.logger.Warn("banned IP",
		slog.String("ip", ip),
		slog.Duration("duration", g.cfg.BanDuration),
	)
}

// BanKey bans a key hash for the configured duration.
func (g *Guard) BanKey(keyHash string) {
	g.mu.Lock()
	g.keyBans[keyHash] = g.now().Add(g.cfg.BanDuration)
	g.mu.Unlock()

	g.logger.Warn("banned API key",
		slog.String("key_hash", keyHash),
		slog.Duration("duration", g.cfg.BanDuration),
	)
}

// CrawlerUserAgent reports whether the user agent matches a known crawler
// pattern. An empty user agent is not flagged.
func (g *Guard) CrawlerUserAgent(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	lower := strings.ToLower(userAgent)
	for _, agent := range crawlerAgents {
		if strings.Contains(lower, agent) {
			return true
		}
	}
	return false
}

// TrapPath reports whether path is the trap endpoint.
func (g *Guard) TrapPath(path string) bool {
	return path == g.cfg.TrapPath
}

// RecordTrapHit registers a trap endpoint hit and bans the IP, plus the
// key if one was presented.
func (g *Guard) RecordTrapHit(ip, keyHash string) {
	g.mu.Lock()
	g.trapHits[ip] = append(g.trapHits[ip], g.now())
	g.mu.Unlock()

	g.BanIP(ip)
	if keyHash != "" {
		g.BanKey(keyHash)
	}

	g.logger.Warn("trap endpoint hit",
		slog.String("ip", ip),
		slog.Bool("key_presented", keyHash != ""),
	)
}

// RecordAccess notes that a key touched an endpoint, for pattern detection.
func (g *Guard) RecordAccess(keyHash, endpoint string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	endpoints, ok := g.keyPatterns[keyHash]
	if !ok {
		endpoints = make(map[string]time.Time)
		g.keyPatterns[keyHash] = endpoints
	}
	endpoints[endpoint] = g.now()
}

// PatternViolation reports whether the key touched at least the threshold
// number of distinct endpoints within the pattern window. Violations are
// soft-throttled, not banned.
func (g *Guard) PatternViolation(keyHash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	endpoints, ok := g.keyPatterns[keyHash]
	if !ok {
		return false
	}

	cutoff := g.now().Add(-g.cfg.PatternWindow)
	recent := 0
	for _, last := range endpoints {
		if last.After(cutoff) {
			recent++
		}
	}
	return recent >= g.cfg.PatternThreshold
}

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"trustgate/internal/audit"
	"trustgate/internal/auth"
	"trustgate/internal/guard"
	"trustgate/internal/models"
	"trustgate/internal/observability"
	"trustgate/internal/ratelimit"

	"github.com/gorilla/mux"
)

// contextKey is an unexported type for request context values.
type contextKey int

const identityContextKey contextKey = iota

// IdentityFrom extracts the authenticated identity placed in the request
// context by the gate. Returns nil for unauthenticated requests.
func IdentityFrom(r *http.Request) *auth.Identity {
	if id, ok := r.Context().Value(identityContextKey).(*auth.Identity); ok {
		return id
	}
	return nil
}

// Gate assembles the admission chain. Screen runs router-wide for ban
// checks and pattern tracking; Protect adds signature verification,
// credential validation, rate limiting, and tier delay on gated routes.
type Gate struct {
	guard    *guard.Guard
	auth     *auth.Authenticator
	sink     *audit.Sink
	metrics  *observability.GatewayMetrics
	security models.SecurityConfig
	enabled  bool
	logger   *slog.Logger
}

// NewGate creates a gate. metrics may be nil.
func NewGate(g *guard.Guard, a *auth.Authenticator, sink *audit.Sink, metrics *observability.GatewayMetrics, cfg *models.Config, logger *slog.Logger) *Gate {
	return &Gate{
		guard:    g,
		auth:     a,
		sink:     sink,
		metrics:  metrics,
		security: cfg.Security,
		enabled:  cfg.Guard.Enabled,
		logger:   logger,
	}
}

// Screen is applied router-wide. It rejects banned IPs and banned keys
// before any route logic runs, tracks per-key access patterns, and
// flags crawler user agents. Pattern violations slow the caller down;
// flagged crawlers are logged but not rejected.
func (g *Gate) Screen() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if g.guard.IPBanned(ip) {
				g.metrics.RecordDecision(r.Context(), "banned", "")
				g.reject(w, r, http.StatusForbidden,
					models.NewErrorResponse(models.ErrorKindForbidden, "access denied"))
				return
			}

			if token := bearerToken(r); token != "" {
				keyHash := models.HashAPIKey(token)
				if g.guard.KeyBanned(keyHash) {
					g.metrics.RecordDecision(r.Context(), "banned", "")
					g.reject(w, r, http.StatusForbidden,
						models.NewErrorResponse(models.ErrorKindForbidden, "access denied"))
					return
				}

				g.guard.RecordAccess(keyHash, r.URL.Path)
				if g.guard.PatternViolation(keyHash) {
					// Soft penalty: slow the caller down without
					// revealing that the pattern was noticed.
					d := g.guard.PenaltyDelay()
					g.metrics.RecordDelay(r.Context(), d, "pattern")
					guard.Sleep(r.Context(), d)
				}
			}

			if ua := r.Header.Get("User-Agent"); g.guard.CrawlerUserAgent(ua) {
				g.logger.Warn("crawler user agent",
					slog.String("user_agent", ua),
					slog.String("client_ip", ip),
					slog.String("path", r.URL.Path))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Protect returns the full admission chain for gated endpoints.
// requiredScope may be empty for endpoints that only need a valid key.
func (g *Gate) Protect(requiredScope string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			token := bearerToken(r)

			// Signature checks only apply to callers that presented a
			// key. An absent credential is an authentication failure,
			// not a signature one.
			if g.enabled && token != "" && !g.signatureExempt(r.URL.Path) {
				ts := r.Header.Get("x-timestamp")
				sig := r.Header.Get("x-signature")
				if ts != "" && sig != "" && !g.guard.VerifySignature(token, ts, r.URL.Path, sig) {
					g.metrics.RecordDecision(r.Context(), "bad_signature", "")
					g.record(r, token, http.StatusUnauthorized, ip)
					g.reject(w, r, http.StatusUnauthorized,
						models.NewErrorResponse(models.ErrorKindBadSignature, "signature verification failed"))
					return
				}
			}

			identity, authErr := g.auth.Authenticate(r.Context(), token, requiredScope)
			if authErr != nil {
				g.metrics.RecordDecision(r.Context(), authErr.Kind.String(), "")
				g.record(r, token, authErr.HTTPStatus(), ip)
				g.reject(w, r, authErr.HTTPStatus(), authErr.Response())
				return
			}

			if g.enabled {
				if d := guard.TierDelay(identity.Key.Tier); d > 0 {
					g.metrics.RecordDelay(r.Context(), d, "tier")
					guard.Sleep(r.Context(), d)
				}
			}

			setRateLimitHeaders(w, identity.Decision)
			g.metrics.RecordDecision(r.Context(), "allowed", string(identity.Key.Tier))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(rec, r.WithContext(ctx))

			g.sink.Record(r.Context(), identity.Key.OwnerID, r.URL.Path, rec.status, ip)
		})
	}
}

func (g *Gate) signatureExempt(path string) bool {
	for _, p := range g.security.SignatureExemptPaths {
		if path == p {
			return true
		}
	}
	return false
}

// record writes a rejection to the access log. Unauthenticated callers
// are logged by token prefix when one was presented.
func (g *Gate) record(r *http.Request, token string, status int, ip string) {
	agent := "anonymous"
	if len(token) >= 8 {
		agent = token[:8]
	}
	g.sink.Record(r.Context(), agent, r.URL.Path, status, ip)
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, status int, body *models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// setRateLimitHeaders exposes the admission decision to well-behaved
// clients so they can pace themselves instead of getting rejected.
func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.DailyLimit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.DailyRemaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	h.Set("X-RateLimit-Minute-Limit", strconv.Itoa(d.MinuteLimit))
	h.Set("X-RateLimit-Minute-Remaining", strconv.Itoa(d.MinuteRemaining))
}

// statusRecorder captures the status written by the wrapped handler so
// the access log can include it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// anonymousLimitMiddleware rate limits unauthenticated traffic by client
// IP. Requests carrying a bearer token are governed by their key's own
// limits instead, and gated paths keep their own rejection taxonomy.
func anonymousLimitMiddleware(limiter *ratelimit.IPLimiter) mux.MiddlewareFunc {
	gatedPrefixes := []string{"/api/v1/context", "/api/v1/usage", "/api/v1/admin"}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerToken(r) != "" {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range gatedPrefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			allowed, info := limiter.Allow(clientIP(r))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(info.RetryAfter.Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(models.NewRateLimitResponse(info.Limit, "1m"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the raw token from the Authorization header.
// Returns "" when the header is absent or not a bearer credential.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return h[len(prefix):]
}

// clientIP resolves the originating client address, preferring the first
// X-Forwarded-For hop when a proxy sits in front of the service.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package guard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// VerifySignature checks an x-timestamp/x-signature header pair. The
// signature is the hex HMAC-SHA256 of timestamp+path keyed by the caller's
// raw API token, and the timestamp must be within the configured skew of
// the current time. Comparison is constant-time.
func (g *Guard) VerifySignature(rawToken, timestamp, path, signature string) bool {
	if rawToken == "" || timestamp == "" || path == "" || signature == "" {
		return false
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		g.logger.Warn("unparseable signature timestamp", slog.String("timestamp", timestamp))
		return false
	}

	skew := g.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.cfg.SignatureMaxSkew {
		g.logger.Warn("signature timestamp out of range", slog.Duration("skew", skew))
		return false
	}

	mac := hmac.New(sha256.New, []byte(rawToken))
	mac.Write([]byte(timestamp + path))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature a client would send for the given timestamp
// and path. Exposed for tests and client tooling.
func Sign(rawToken, timestamp, path string) string {
	mac := hmac.New(sha256.New, []byte(rawToken))
	mac.Write([]byte(timestamp + path))
	return hex.EncodeToString(mac.Sum(nil))
}

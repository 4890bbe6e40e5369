// Package signature verifies HMAC-SHA256 signatures on internal
// service-to-service requests.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "sha256="

// Verify reports whether header is a valid HMAC-SHA256 signature of body
// under secret. The header may be a bare hex digest or prefixed with
// "sha256=". It never returns an error: missing, malformed, or mismatched
// signatures all yield false, and the caller decides the HTTP consequence.
func Verify(secret string, body []byte, header string) bool {
	sig := strings.TrimSpace(header)
	if sig == "" {
		return false
	}
	sig = strings.TrimPrefix(sig, prefix)

	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign computes the hex HMAC-SHA256 digest of body under secret, without
// the "sha256=" prefix. Used by tests and by local tooling that replays
// envelopes against the ingestion endpoint.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

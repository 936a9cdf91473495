package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RequestContext is the requester metadata captured at issuance and at each
// validation.
type RequestContext struct {
	UserAgent string
	IP        string
}

// Summary returns a truncated, log-safe rendering for security events.
func (rc RequestContext) Summary() string {
	ua := rc.UserAgent
	if len(ua) > 120 {
		ua = ua[:120]
	}
	return strings.TrimSpace(ua + " " + rc.IP)
}

// DeviceFingerprint derives a coarse binding hash from the request context.
// It is a low-entropy friction signal, not an identity proof: the same owner
// on a new network or browser produces a different value, and the hash is
// unsalted and stable across issuances. Treat mismatches as UX friction.
func DeviceFingerprint(rc RequestContext) string {
	h := sha256.Sum256([]byte(rc.UserAgent + ":" + rc.IP))
	return hex.EncodeToString(h[:])
}

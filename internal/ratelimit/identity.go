package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownIdentity is shared by every client that sends no identifying header.
const UnknownIdentity = "unknown"

// ClientIdentity derives the quota key from proxy headers: the first
// X-Forwarded-For entry, then X-Real-IP, then UnknownIdentity.
func ClientIdentity(h http.Header) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(h.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return UnknownIdentity
}

// Package urlkit classifies, normalizes, validates and unwraps user-supplied URLs.
// Everything in this package is pure: no network access and no shared state.
package urlkit

import (
	"net/url"
	"strings"
)

// trackingKeys are removed by Normalize in addition to any utm_* key.
var trackingKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
}

// Normalize rewrites a URL into its canonical form so equivalent links share one
// cache key. Input that is not an absolute URL is returned unchanged.
//
// The canonical form uses https, a lower-cased host without "www." or a default
// port, no fragment, no trailing slash (except the root path), and a sorted query
// without tracking parameters. Normalize is idempotent.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); port == "443" || port == "80" {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}
	for strings.HasPrefix(u.Host, "www.") {
		u.Host = strings.TrimPrefix(u.Host, "www.")
	}
	u.Fragment = ""
	u.RawFragment = ""

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = strings.TrimRight(u.RawPath, "/")
	}

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if isTrackingKey(key) {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false

	return u.String()
}

func isTrackingKey(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	_, ok := trackingKeys[lower]
	return ok
}

// Coerce turns scheme-less but URL-like input ("www.example.com/a", "example.com")
// into an absolute https URL. Anything else is returned trimmed but otherwise intact.
func Coerce(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.Contains(s, "://") {
		return s
	}
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	if IsURLLike(s) {
		return "https://" + s
	}
	return s
}

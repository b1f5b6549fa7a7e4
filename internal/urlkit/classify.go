package urlkit

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	absoluteURLPattern = regexp.MustCompile(`(?i)^https?://[^\s/?#]+\S*$`)
	wwwPattern         = regexp.MustCompile(`(?i)^www\.[^\s/?#]+\.[^\s/?#]+\S*$`)
	hostTokenPattern   = regexp.MustCompile(`(?i)^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)+\.?$`)
)

// shorteners lists link-shortening services. Subdomains match too.
var shorteners = newHostSet(
	"bit.ly", "bitly.com", "j.mp", "tinyurl.com", "t.co", "goo.gl", "ow.ly", "is.gd",
	"v.gd", "buff.ly", "rebrand.ly", "cutt.ly", "shorturl.at", "tiny.cc", "bl.ink",
	"lnkd.in", "rb.gy", "t.ly", "s.id", "qr.ae", "adf.ly", "amzn.to", "youtu.be",
	"fb.me", "dlvr.it", "trib.al", "soo.gd", "shorte.st", "mcaf.ee", "x.co", "po.st",
	"clck.ru", "tr.im", "su.pr", "snip.ly", "lc.chat", "wp.me", "spoti.fi", "apple.co",
	"flip.it", "hubs.ly", "ift.tt", "linktr.ee",
)

var redirectPathMarkers = []string{"/redirect", "/r/", "/go/", "/out", "/track", "/click"}

var redirectQueryKeys = map[string]struct{}{
	"url":         {},
	"link":        {},
	"redirect":    {},
	"target":      {},
	"dest":        {},
	"destination": {},
}

// IsURLLike reports whether s plausibly names a web resource. It accepts absolute
// http(s) URLs, www-prefixed hosts, and bare hosts ending in an ICANN public suffix.
func IsURLLike(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	if absoluteURLPattern.MatchString(s) || wwwPattern.MatchString(s) {
		return true
	}
	host := s
	if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
		host = host[:idx]
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if !hostTokenPattern.MatchString(host) {
		return false
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	return icann && suffix != host
}

// IsShortener reports whether the URL's host belongs to a known shortening service.
func IsShortener(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return false
	}
	return shorteners.Contains(strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."))
}

// IsRedirectLike reports whether the path or query suggests a redirect wrapper.
func IsRedirectLike(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, marker := range redirectPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	for key := range u.Query() {
		if _, ok := redirectQueryKeys[strings.ToLower(key)]; ok {
			return true
		}
	}
	return false
}

// NeedsResolution reports whether a URL should be resolved before its content is fetched.
func NeedsResolution(rawURL string) bool {
	return IsShortener(rawURL) || IsRedirectLike(rawURL)
}

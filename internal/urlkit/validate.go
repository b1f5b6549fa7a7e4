package urlkit

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// DefaultMaxURLLength caps the raw length of a URL accepted by Validate.
const DefaultMaxURLLength = 2048

var (
	// ErrInvalidURL indicates the URL is malformed, too long or uses a disallowed scheme.
	ErrInvalidURL = errors.New("invalid URL")
	// ErrDisallowedHost indicates the URL targets a local, private or obfuscated address.
	ErrDisallowedHost = errors.New("disallowed host")
)

var blockedHostSuffixes = newHostSet("localhost", "local", "internal", "localdomain", "home.arpa")

// Validator rejects URLs that must never be fetched.
type Validator struct {
	// MaxURLLength caps the raw URL length; zero means DefaultMaxURLLength.
	MaxURLLength int
	// AllowPrivate disables the loopback/private network checks. Tests only.
	AllowPrivate bool
	// Denied lists operator-blocked hosts; checked even when AllowPrivate is set.
	Denied *Blocklist
}

// NewValidator builds a Validator with the given length cap.
func NewValidator(maxURLLength int, allowPrivate bool) *Validator {
	return &Validator{MaxURLLength: maxURLLength, AllowPrivate: allowPrivate}
}

// Validate checks raw and returns nil when it is safe to fetch.
func (v *Validator) Validate(raw string) error {
	limit := DefaultMaxURLLength
	if v != nil && v.MaxURLLength > 0 {
		limit = v.MaxURLLength
	}
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if len(raw) > limit {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidURL, limit)
	}
	if strings.ContainsAny(raw, "\\\x00\r\n\t ") {
		return fmt.Errorf("%w: contains control characters", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, u.Scheme)
	}
	if u.Opaque != "" || u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.User != nil || strings.Contains(u.Host, "@") {
		return fmt.Errorf("%w: credentials in URL", ErrInvalidURL)
	}
	if v != nil && v.Denied.IsBlocked(u.Hostname()) {
		return fmt.Errorf("%w: %s is blocked", ErrDisallowedHost, u.Hostname())
	}
	if v != nil && v.AllowPrivate {
		return nil
	}
	return CheckHost(u.Hostname())
}

// CheckHost rejects hostnames and literal addresses that point into local or
// private networks, including numeric forms such as "2130706433" or "0x7f000001".
func CheckHost(host string) error {
	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrDisallowedHost)
	}
	if blockedHostSuffixes.Contains(host) {
		return fmt.Errorf("%w: %s", ErrDisallowedHost, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if !IsPublicAddr(addr) {
			return fmt.Errorf("%w: %s", ErrDisallowedHost, host)
		}
		return nil
	}
	if isNumericHost(host) {
		return fmt.Errorf("%w: numeric host %s", ErrDisallowedHost, host)
	}
	return nil
}

// IsPublicAddr reports whether addr is routable on the public internet.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified() &&
		!cgnat.Contains(addr)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// isNumericHost catches hosts that resolvers may interpret as IPv4 even though
// they are not dotted-quad literals (decimal, hex or octal parts).
func isNumericHost(host string) bool {
	for _, part := range strings.Split(host, ".") {
		if part == "" {
			return false
		}
		p := strings.TrimPrefix(part, "0x")
		if p == "" {
			return false
		}
		for _, r := range p {
			isDigit := r >= '0' && r <= '9'
			isHex := part != p && ((r >= 'a' && r <= 'f') || isDigit)
			if !isDigit && !isHex {
				return false
			}
		}
	}
	return net.ParseIP(host) == nil
}

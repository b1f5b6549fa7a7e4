package urlkit

import "strings"

// Blocklist matches hosts against exact names and suffix wildcards
// ("*.example.com" or ".example.com"). A nil Blocklist blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist builds a Blocklist from patterns, or nil when none are usable.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimSuffix(strings.TrimPrefix(value, "*."), "."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimSuffix(strings.TrimPrefix(value, "."), "."))
		default:
			if value = strings.TrimSuffix(value, "."); value != "" {
				b.exact[value] = struct{}{}
			}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host matches an entry.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

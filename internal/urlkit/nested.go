package urlkit

import (
	"net/url"
	"sort"
	"strings"
)

// DefaultNestedDepth bounds recursion in ExtractNested.
const DefaultNestedDepth = 5

// ExtractNested finds URLs wrapped inside another URL's query values or path
// segments, as redirect and tracking wrappers do, and recurses into each one found.
// Results are normalized, deduplicated and sorted. Invalid input yields nil.
func ExtractNested(rawURL string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = DefaultNestedDepth
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil
	}

	visited := map[string]struct{}{Normalize(u.String()): {}}
	found := make(map[string]struct{})
	extractInto(u, maxDepth, visited, found)
	if len(found) == 0 {
		return nil
	}
	out := make([]string, 0, len(found))
	for candidate := range found {
		out = append(out, candidate)
	}
	sort.Strings(out)
	return out
}

func extractInto(u *url.URL, depth int, visited, found map[string]struct{}) {
	if depth <= 0 {
		return
	}
	for _, value := range embeddedValues(u) {
		if !IsURLLike(value) {
			continue
		}
		candidate := Normalize(Coerce(value))
		if _, seen := visited[candidate]; seen {
			continue
		}
		visited[candidate] = struct{}{}
		nested, err := url.Parse(candidate)
		if err != nil || nested.Host == "" {
			continue
		}
		found[candidate] = struct{}{}
		extractInto(nested, depth-1, visited, found)
	}
}

// embeddedValues returns decoded query values followed by decoded path segments.
// Path segments only count when they carry a scheme or a "www." prefix, so file
// names such as "README.md" are not mistaken for hosts.
func embeddedValues(u *url.URL) []string {
	var values []string
	for _, vs := range u.Query() {
		for _, v := range vs {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
	}
	for _, segment := range strings.Split(u.EscapedPath(), "/") {
		if segment == "" {
			continue
		}
		decoded, err := url.PathUnescape(segment)
		if err != nil || !hasExplicitURLPrefix(decoded) {
			continue
		}
		values = append(values, decoded)
	}
	return values
}

func hasExplicitURLPrefix(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "www.")
}

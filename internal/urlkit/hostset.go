package urlkit

import "strings"

// hostSet matches hostnames exactly or as a subdomain of a listed entry.
type hostSet struct {
	exact map[string]struct{}
}

func newHostSet(hosts ...string) hostSet {
	set := hostSet{exact: make(map[string]struct{}, len(hosts))}
	for _, raw := range hosts {
		value := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(raw)), "*.")
		value = strings.TrimPrefix(value, ".")
		if value == "" {
			continue
		}
		set.exact[value] = struct{}{}
	}
	return set
}

// Contains walks up the label hierarchy so "x.bit.ly" matches "bit.ly".
func (s hostSet) Contains(host string) bool {
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	for host != "" {
		if _, ok := s.exact[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
	return false
}

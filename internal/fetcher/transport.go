package fetcher

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"github.com/JakeFAU/contentfetch/internal/urlkit"
)

// GuardedDialer returns a dialer that refuses connections to addresses that are
// not publicly routable. The check runs after DNS resolution, so hostnames that
// resolve into private ranges are rejected as well.
func GuardedDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   guardControl,
	}
}

func guardControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", urlkit.ErrDisallowedHost, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", urlkit.ErrDisallowedHost, address)
	}
	if !urlkit.IsPublicAddr(addr) {
		return fmt.Errorf("%w: %s", urlkit.ErrDisallowedHost, addr)
	}
	return nil
}

// NewTransport builds the pooled transport shared by outbound clients. Unless
// allowPrivate is set, every dial goes through GuardedDialer and proxies from the
// environment are ignored.
func NewTransport(allowPrivate bool) *http.Transport {
	dialer := GuardedDialer(10 * time.Second)
	proxy := http.ProxyFromEnvironment
	if allowPrivate {
		dialer.Control = nil
	} else {
		proxy = nil
	}
	return &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

package fetch

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// proxyBypass routes intra-network and administrative targets directly.
// Proxying such hosts is typically wrong and often unreachable from the
// proxy's vantage point.
type proxyBypass struct {
	proxyURL *url.URL
	noProxy  map[string]struct{}
	lookupIP func(host string) ([]net.IP, error)
}

func newProxyBypass(proxy string, noProxyHosts []string) (*proxyBypass, error) {
	b := &proxyBypass{
		noProxy:  make(map[string]struct{}, len(noProxyHosts)),
		lookupIP: net.LookupIP,
	}
	if proxy != "" {
		parsed, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		b.proxyURL = parsed
	}
	for _, host := range noProxyHosts {
		host = strings.TrimSpace(strings.ToLower(host))
		if host != "" {
			b.noProxy[host] = struct{}{}
		}
	}
	return b, nil
}

// proxyFor selects the proxy per request: nil (direct) for hosts on the
// no-proxy list or resolving to private, loopback, link-local, or multicast
// addresses; the configured proxy otherwise.
func (b *proxyBypass) proxyFor(req *http.Request) (*url.URL, error) {
	if b.proxyURL == nil {
		return nil, nil
	}
	host := strings.ToLower(req.URL.Hostname())
	if host == "" {
		return b.proxyURL, nil
	}
	if _, listed := b.noProxy[host]; listed {
		return nil, nil
	}
	if b.isDirectHost(host) {
		return nil, nil
	}
	return b.proxyURL, nil
}

func (b *proxyBypass) isDirectHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return isDirectIP(ip)
	}
	ips, err := b.lookupIP(host)
	if err != nil {
		// Unresolvable from here; let the proxy try.
		return false
	}
	for _, ip := range ips {
		if isDirectIP(ip) {
			return true
		}
	}
	return false
}

func isDirectIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

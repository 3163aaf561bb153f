package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds configuration for client address resolution
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// IPResolver determines the source address of a login attempt. Forwarding
// headers are honoured only when the direct peer is a trusted proxy, so a
// client cannot pick its own rate-limit key.
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver parses the trusted proxy ranges. Invalid CIDRs are skipped.
func NewIPResolver(config *IPConfig) *IPResolver {
	r := &IPResolver{}
	if config == nil {
		return r
	}
	for _, cidr := range config.TrustedProxies {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		r.trusted = append(r.trusted, prefix.Masked())
	}
	return r
}

// ClientIP returns the canonical client address, or "" when none can be determined.
func (ipr *IPResolver) ClientIP(r *http.Request) string {
	peer, ok := peerAddr(r)
	if !ok {
		return ""
	}

	if ipr.isTrusted(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, candidate := range strings.Split(xff, ",") {
				if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
					return addr.Unmap().String()
				}
			}
		}
		if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return addr.Unmap().String()
		}
	}

	return peer.String()
}

func (ipr *IPResolver) isTrusted(addr netip.Addr) bool {
	for _, prefix := range ipr.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// peerAddr extracts the direct peer address from RemoteAddr, with or without a port.
func peerAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// ExtractClientIP is a convenience wrapper for one-off resolution.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	return NewIPResolver(config).ClientIP(r)
}

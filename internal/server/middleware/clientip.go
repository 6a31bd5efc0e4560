package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIPExtractor resolves the real client IP, honoring
// X-Forwarded-For only when the peer is a trusted proxy. With no
// trusted proxies configured the peer address is always used, which
// keeps spoofed headers from poisoning rate-limit keys.
type ClientIPExtractor struct {
	trustedCIDRs []*net.IPNet
}

// NewClientIPExtractor builds an extractor from the configured trusted
// proxy list. Entries may be CIDRs or single addresses; invalid entries
// are skipped.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		_, cidr, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				continue
			}
			cidr = singleIPToCIDR(ip)
		}
		cidrs = append(cidrs, cidr)
	}
	return &ClientIPExtractor{trustedCIDRs: cidrs}
}

func singleIPToCIDR(ip net.IP) *net.IPNet {
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(bits, bits),
	}
}

// Extract returns the client IP for the request. When the peer is a
// trusted proxy, X-Forwarded-For is walked right to left and the first
// untrusted hop wins, then X-Real-IP is consulted, then the peer
// address.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)

	if len(e.trustedCIDRs) == 0 || !e.isTrusted(remoteIP) {
		return remoteIP
	}

	if ip := e.extractFromXFF(r); ip != "" {
		return ip
	}

	if realIP := strings.TrimSpace(r.Header.Get(HeaderXRealIP)); realIP != "" {
		if net.ParseIP(realIP) != nil {
			return realIP
		}
	}

	return remoteIP
}

// extractFromXFF returns the first untrusted hop of X-Forwarded-For
// walking right to left, or "" when the header is absent or every hop
// is trusted.
func (e *ClientIPExtractor) extractFromXFF(r *http.Request) string {
	xff := r.Header.Get(HeaderXForwardedFor)
	if xff == "" {
		return ""
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !e.isTrusted(hop) {
			return hop
		}
	}

	return ""
}

func (e *ClientIPExtractor) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range e.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// stripPort removes the port from "host:port" and "[host]:port" forms.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ClientIP returns a middleware that resolves the client IP once per
// request and stores it in the gin context for downstream middleware.
func ClientIP(trustedProxies []string) gin.HandlerFunc {
	extractor := NewClientIPExtractor(trustedProxies)
	return func(c *gin.Context) {
		c.Set(ContextKeyClientIP, extractor.Extract(c.Request))
		c.Next()
	}
}

// GetClientIP returns the IP resolved by ClientIP, falling back to the
// peer address when the middleware did not run.
func GetClientIP(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyClientIP); ok {
		if ip, ok := v.(string); ok {
			return ip
		}
	}
	return stripPort(c.Request.RemoteAddr)
}

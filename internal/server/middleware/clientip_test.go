package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractNoTrustedProxies(t *testing.T) {
	e := NewClientIPExtractor(nil)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7:4411"
	req.Header.Set(HeaderXForwardedFor, "198.51.100.1")

	assert.Equal(t, "203.0.113.7", e.Extract(req))
}

func TestExtractFromTrustedProxy(t *testing.T) {
	e := NewClientIPExtractor([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8080"
	req.Header.Set(HeaderXForwardedFor, "198.51.100.1, 10.4.5.6")

	assert.Equal(t, "198.51.100.1", e.Extract(req))
}

func TestExtractUntrustedPeerIgnoresHeader(t *testing.T) {
	e := NewClientIPExtractor([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7:4411"
	req.Header.Set(HeaderXForwardedFor, "198.51.100.1")

	assert.Equal(t, "203.0.113.7", e.Extract(req))
}

func TestExtractAllHopsTrusted(t *testing.T) {
	e := NewClientIPExtractor([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8080"
	req.Header.Set(HeaderXForwardedFor, "10.9.9.9, 10.4.5.6")

	assert.Equal(t, "10.1.2.3", e.Extract(req))
}

func TestExtractSingleIPEntry(t *testing.T) {
	e := NewClientIPExtractor([]string{"10.1.2.3"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8080"
	req.Header.Set(HeaderXForwardedFor, "198.51.100.1")

	assert.Equal(t, "198.51.100.1", e.Extract(req))
}

func TestExtractInvalidEntriesSkipped(t *testing.T) {
	e := NewClientIPExtractor([]string{"not-a-cidr", ""})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8080"
	req.Header.Set(HeaderXForwardedFor, "198.51.100.1")

	assert.Equal(t, "10.1.2.3", e.Extract(req))
}

func TestExtractRealIPFallback(t *testing.T) {
	e := NewClientIPExtractor([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8080"
	req.Header.Set(HeaderXRealIP, "198.51.100.9")

	assert.Equal(t, "198.51.100.9", e.Extract(req))
}

func TestExtractForwardedForWinsOverRealIP(t *testing.T) {
	e := NewClientIPExtractor([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8080"
	req.Header.Set(HeaderXForwardedFor, "198.51.100.1")
	req.Header.Set(HeaderXRealIP, "198.51.100.9")

	assert.Equal(t, "198.51.100.1", e.Extract(req))
}

func TestExtractRealIPIgnoredFromUntrustedPeer(t *testing.T) {
	e := NewClientIPExtractor([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7:4411"
	req.Header.Set(HeaderXRealIP, "198.51.100.9")

	assert.Equal(t, "203.0.113.7", e.Extract(req))
}

func TestExtractRealIPRejectsGarbage(t *testing.T) {
	e := NewClientIPExtractor([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:8080"
	req.Header.Set(HeaderXRealIP, "not-an-ip")

	assert.Equal(t, "10.1.2.3", e.Extract(req))
}

func TestStripPortIPv6(t *testing.T) {
	assert.Equal(t, "::1", stripPort("[::1]:8080"))
	assert.Equal(t, "192.0.2.1", stripPort("192.0.2.1:443"))
	assert.Equal(t, "192.0.2.1", stripPort("192.0.2.1"))
}

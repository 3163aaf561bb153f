package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/dragonbane-auth/pkg/http"
	"github.com/stretchr/testify/assert"
)

var internalProxies = &pkghttp.IPConfig{
	TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12", "2001:db8::/32"},
}

func TestClientIP_DirectConnection_IgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	ip := pkghttp.NewIPResolver(internalProxies).ClientIP(req)

	assert.Equal(t, "203.0.113.10", ip)
}

func TestClientIP_TrustedProxy_UsesFirstForwardedAddress(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "garbage, 203.0.113.42, 10.0.0.5")

	ip := pkghttp.NewIPResolver(internalProxies).ClientIP(req)

	assert.Equal(t, "203.0.113.42", ip)
}

func TestClientIP_TrustedProxy_FallsBackToRealIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "172.16.3.4:80"
	req.Header.Set("X-Real-IP", "198.51.100.7")

	ip := pkghttp.NewIPResolver(internalProxies).ClientIP(req)

	assert.Equal(t, "198.51.100.7", ip)
}

func TestClientIP_IPv6TrustedProxy(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	req.Header.Set("X-Forwarded-For", "2001:db8:ffff::99")

	ip := pkghttp.NewIPResolver(internalProxies).ClientIP(req)

	assert.Equal(t, "2001:db8:ffff::99", ip)
}

func TestClientIP_NilConfigTrustsNoOne(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	assert.Equal(t, "10.0.0.5", pkghttp.ExtractClientIP(req, nil))
}

func TestClientIP_InvalidCIDRIsSkipped(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	ip := pkghttp.ExtractClientIP(req, &pkghttp.IPConfig{TrustedProxies: []string{"not-a-cidr"}})

	assert.Equal(t, "10.0.0.5", ip)
}

func TestClientIP_RemoteAddrWithoutPort(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "198.51.100.20"

	assert.Equal(t, "198.51.100.20", pkghttp.ExtractClientIP(req, nil))
}

func TestClientIP_MappedIPv4IsUnmapped(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "[::ffff:192.0.2.1]:8080"

	assert.Equal(t, "192.0.2.1", pkghttp.ExtractClientIP(req, nil))
}

func TestClientIP_UnparseableRemoteAddrIsEmpty(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "pipe"

	assert.Equal(t, "", pkghttp.ExtractClientIP(req, nil))
}

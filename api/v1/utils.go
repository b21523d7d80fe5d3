package v1

import (
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// clientIPHeaders are consulted in order; the first holding a valid address wins.
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"Client-IP",
}

// getClientIP returns the first valid address of X-Forwarded-For, then
// X-Real-IP, Client-IP and finally the connection's remote address. Only the
// first entry of a comma separated header is considered.
func getClientIP(c *fiber.Ctx) string {
	for _, header := range clientIPHeaders {
		value := c.Get(header)
		if value == "" {
			continue
		}
		first, _, _ := strings.Cut(value, ",")
		if ip, _ := normalizeIP(first); ip != "" {
			return ip
		}
	}

	if remoteAddr := c.Context().RemoteAddr(); remoteAddr != nil {
		if ip, _ := normalizeIP(remoteAddr.String()); ip != "" {
			return ip
		}
	}

	ip, _ := normalizeIP(c.IP())
	return ip
}

func normalizeIP(raw string) (string, net.IP) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"")
	if clean == "" {
		return "", nil
	}

	// Remove zone identifier if present (e.g. fe80::1%eth0)
	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	// Try parsing addr:port (handles both IPv4:port and [IPv6]:port)
	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return fromAddr(addrPort.Addr())
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return fromAddr(addr)
	}

	if host, _, err := net.SplitHostPort(clean); err == nil {
		return normalizeIP(host)
	}

	return "", nil
}

func fromAddr(addr netip.Addr) (string, net.IP) {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	ipStr := addr.String()
	return ipStr, net.ParseIP(ipStr)
}

// getUserAgent prefers the user agent forwarded by a server-side proxy.
func getUserAgent(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return c.Get("User-Agent")
}

// readCookie returns a query-escaped cookie value decoded, or the raw value
// when it is not escaped.
func readCookie(c *fiber.Ctx, name string) string {
	raw := c.Cookies(name)
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

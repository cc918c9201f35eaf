package v1

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"revivalmetrics/internal/pkg/iputil"
)

// getClientIP extracts the real client IP behind proxies. Header
// precedence: CF-Connecting-IP, then X-Real-IP, then the first public
// address in X-Forwarded-For, then the Forwarded header, finally the
// socket address.
func getClientIP(c *fiber.Ctx) string {
	if cfIP := c.Get("CF-Connecting-IP"); cfIP != "" {
		if ip, _ := iputil.Normalize(cfIP); ip != "" {
			return ip
		}
	}

	if realIP := c.Get("X-Real-IP"); realIP != "" {
		if ip, _ := iputil.Normalize(realIP); ip != "" {
			return ip
		}
	}

	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if ip := iputil.SelectPreferred(strings.Split(xff, ",")); ip != "" {
			return ip
		}
	}

	if fwd := c.Get("Forwarded"); fwd != "" {
		if ip := iputil.SelectPreferred(iputil.ParseForwarded(fwd)); ip != "" {
			return ip
		}
	}

	ip, _ := iputil.Normalize(c.IP())
	return ip
}

// resolveUserAgent prefers the explicit payload value, then the
// forwarded header a server-side tracker sets on behalf of its caller,
// then the request's own User-Agent.
func resolveUserAgent(c *fiber.Ctx, payloadUA string) string {
	if payloadUA != "" {
		return payloadUA
	}
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return c.Get("User-Agent")
}

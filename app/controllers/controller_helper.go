package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// requestID returns the id set by the requestid middleware, or "".
func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		return id
	}
	return ""
}

// GetClientIP determines the client address considering Cloudflare and
// standard proxy headers. It falls back to the connection address.
func GetClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		// The first entry is the original client.
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}

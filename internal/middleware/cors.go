package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig lists the browser origins allowed to call the catalog.
// DevPassword lets a developer reach a deployed API from any origin.
type CORSConfig struct {
	AllowedSuffixes []string
	DevPassword     string
}

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsMaxAge       = "600"
)

// CORS admits requests without an Origin, origins whose host ends with one
// of AllowedSuffixes, localhost during development, and any origin sending
// the dev password. Other origins get 403 in the usual error envelope.
func CORS(cfg CORSConfig) fiber.Handler {
	suffixes := make([]string, 0, len(cfg.AllowedSuffixes))
	for _, s := range cfg.AllowedSuffixes {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			suffixes = append(suffixes, s)
		}
	}
	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" {
			return c.Next()
		}
		c.Vary(fiber.HeaderOrigin)

		allowed := isLocalOrigin(origin) || originMatches(origin, suffixes) ||
			(cfg.DevPassword != "" && c.Get("dev-password") == cfg.DevPassword)
		if !allowed {
			return WriteError(c, fiber.NewError(fiber.StatusForbidden, "Not allowed by CORS"))
		}

		c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
		c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
		c.Set(fiber.HeaderAccessControlExposeHeaders, traceIDHeader)
		if c.Method() == fiber.MethodOptions {
			c.Set(fiber.HeaderAccessControlAllowMethods, corsAllowMethods)
			c.Set(fiber.HeaderAccessControlAllowHeaders, strings.Join([]string{
				fiber.HeaderContentType, "dev-password", AdminKeyHeader, traceIDHeader,
			}, ", "))
			c.Set(fiber.HeaderAccessControlMaxAge, corsMaxAge)
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}

func isLocalOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
}

// originMatches compares the host part only, so "evil.com/autolist.example.com"
// style tricks in the scheme or path cannot match.
func originMatches(origin string, suffixes []string) bool {
	host := strings.ToLower(origin)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, ":/"); i >= 0 {
		host = host[:i]
	}
	for _, s := range suffixes {
		s = strings.TrimPrefix(s, ".")
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

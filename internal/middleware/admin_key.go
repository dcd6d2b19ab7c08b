package middleware

import (
	"strings"

	"autolist-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKeyConfig guards catalog writes. Hash is the bcrypt hash of the
// admin key; an empty hash leaves the routes open. When, if set, limits
// the check to the requests it returns true for.
type AdminKeyConfig struct {
	Hash string
	When func(c *fiber.Ctx) bool
}

// RequireAdminKey rejects requests without a key matching cfg.Hash.
func RequireAdminKey(cfg AdminKeyConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Hash == "" || (cfg.When != nil && !cfg.When(c)) {
			return c.Next()
		}
		key := strings.TrimSpace(c.Get(AdminKeyHeader))
		if key == "" {
			return response.Unauthorized(c, "Admin key required")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.Hash), []byte(key)); err != nil {
			return response.Error(c, "Invalid admin key", fiber.StatusForbidden, nil)
		}
		return c.Next()
	}
}

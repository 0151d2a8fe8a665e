package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-realtime/internal/utils"
)

// Request locals populated by the identity middlewares.
const (
	LocalUserID   = "user_id"
	LocalUserRole = "user_role"
)

func setIdentity(c *fiber.Ctx, userID, role string) {
	c.Locals(LocalUserID, userID)
	if role != "" {
		c.Locals(LocalUserRole, role)
	}
}

// UserID returns the authenticated caller, or "" for anonymous requests.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// UserRole returns the authenticated caller's lower-cased role.
func UserRole(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalUserRole).(string)
	return role
}

// RequireUser rejects requests that carry no identity.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		return c.Next()
	}
}

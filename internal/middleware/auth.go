package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"finresearch_backend/pkg/utils/jwt"
)

const userKey = "user"

// Protected validates the bearer token and stores its claims under Locals("user").
func Protected(tokens *jwt.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(userKey, claims)
		return c.Next()
	}
}

// Claims returns the authenticated caller, or nil on unprotected routes.
func Claims(c *fiber.Ctx) *jwt.Claims {
	claims, _ := c.Locals(userKey).(*jwt.Claims)
	return claims
}

// UserID returns the authenticated user id, 0 when unauthenticated.
func UserID(c *fiber.Ctx) uint {
	if claims := Claims(c); claims != nil {
		return claims.UserID
	}
	return 0
}

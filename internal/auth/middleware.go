package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const localUserID = "user_id"

// JWTMiddleware validates bearer tokens and stores user_id in locals.
func JWTMiddleware(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication credentials were not provided.")
		}
		return authenticate(c, token, secretBytes)
	}
}

// OptionalJWT lets anonymous requests through. A token that is present but
// invalid is still rejected.
func OptionalJWT(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			return c.Next()
		}
		return authenticate(c, token, secretBytes)
	}
}

func authenticate(c *fiber.Ctx, token string, secret []byte) error {
	claims, err := parseClaims(token, secret, TokenTypeAccess)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Given token not valid for any token type")
	}
	c.Locals(localUserID, claims.UserID)
	return c.Next()
}

// UserID returns the authenticated caller, if any.
func UserID(c *fiber.Ctx) (string, bool) {
	id, ok := c.Locals(localUserID).(string)
	return id, ok && id != ""
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/r15huu/HikeMates/internal/apperr"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/register", func(c *fiber.Ctx) error {
		var req RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.Validation("invalid payload")
		}
		user, tokens, err := svc.Register(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user, "tokens": tokens})
	})

	r.Post("/token", func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil || req.Username == "" || req.Password == "" {
			return apperr.Validation("username and password required")
		}
		_, resp, err := svc.Login(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	r.Post("/refresh", func(c *fiber.Ctx) error {
		var req RefreshRequest
		if err := c.BodyParser(&req); err != nil || req.Refresh == "" {
			return apperr.Validation("refresh is required")
		}

		userID, err := svc.ValidateRefreshToken(c.UserContext(), req.Refresh)
		if err != nil {
			return err
		}

		resp, err := svc.GenerateTokens(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	r.Get("/me", authMiddleware, func(c *fiber.Ctx) error {
		userID, _ := UserID(c)
		user, err := svc.Me(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return c.JSON(user)
	})
}

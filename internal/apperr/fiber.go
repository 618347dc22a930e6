package apperr

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Handler returns a fiber.ErrorHandler rendering errors as {"detail": msg}.
// Unclassified errors are logged and hidden behind a generic message.
func Handler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *Error
		var fiberErr *fiber.Error

		status := fiber.StatusInternalServerError
		detail := "internal server error"

		switch {
		case errors.As(err, &appErr) && appErr.Kind != KindInternal:
			status = appErr.Kind.Status()
			detail = appErr.Msg
		case errors.As(err, &fiberErr):
			status = fiberErr.Code
			detail = fiberErr.Message
		}

		if status >= fiber.StatusInternalServerError && log != nil {
			log.WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
				"error":  err.Error(),
			}).Error("request failed")
		}
		return c.Status(status).JSON(fiber.Map{"detail": detail})
	}
}

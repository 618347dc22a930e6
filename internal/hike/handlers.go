package hike

import (
	"github.com/gofiber/fiber/v2"

	"github.com/r15huu/HikeMates/internal/apperr"
	"github.com/r15huu/HikeMates/internal/auth"
)

type requestIDBody struct {
	RequestID string `json:"request_id" form:"request_id"`
}

type userIDBody struct {
	UserID string `json:"user_id" form:"user_id"`
	Role   string `json:"role" form:"role"`
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}

func caller(c *fiber.Ctx) string {
	id, _ := auth.UserID(c)
	return id
}

// RegisterRoutes mounts the hike API. Listing, retrieval and the member list
// accept anonymous viewers; everything else needs a token.
func RegisterRoutes(r fiber.Router, svc *Service, requireAuth, optionalAuth fiber.Handler) {
	r.Get("/", optionalAuth, func(c *fiber.Ctx) error {
		hikes, err := svc.List(c.UserContext(), caller(c))
		if err != nil {
			return err
		}
		return c.JSON(hikes)
	})

	r.Get("/my", requireAuth, func(c *fiber.Ctx) error {
		hikes, err := svc.Mine(c.UserContext(), caller(c))
		if err != nil {
			return err
		}
		return c.JSON(hikes)
	})

	r.Post("/", requireAuth, func(c *fiber.Ctx) error {
		var req HikeInput
		if err := c.BodyParser(&req); err != nil {
			return apperr.Validation("invalid payload")
		}
		h, err := svc.Create(c.UserContext(), caller(c), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(h)
	})

	r.Get("/:id", optionalAuth, func(c *fiber.Ctx) error {
		h, err := svc.Get(c.UserContext(), caller(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(h)
	})

	r.Put("/:id", requireAuth, func(c *fiber.Ctx) error {
		var req HikeInput
		if err := c.BodyParser(&req); err != nil {
			return apperr.Validation("invalid payload")
		}
		h, err := svc.Update(c.UserContext(), caller(c), c.Params("id"), req)
		if err != nil {
			return err
		}
		return c.JSON(h)
	})

	r.Patch("/:id", requireAuth, func(c *fiber.Ctx) error {
		h, err := svc.Patch(c.UserContext(), caller(c), c.Params("id"), func(in *HikeInput) error {
			return c.BodyParser(in)
		})
		if err != nil {
			return err
		}
		return c.JSON(h)
	})

	r.Delete("/:id", requireAuth, func(c *fiber.Ctx) error {
		if err := svc.Delete(c.UserContext(), caller(c), c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/:id/members", optionalAuth, func(c *fiber.Ctx) error {
		members, err := svc.Members(c.UserContext(), caller(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(members)
	})

	r.Post("/:id/join", requireAuth, func(c *fiber.Ctx) error {
		res, err := svc.Join(c.UserContext(), caller(c), c.Params("id"))
		if err != nil {
			return err
		}
		if res.Request != nil {
			return detail(c, fiber.StatusCreated, "Join request created.")
		}
		return detail(c, fiber.StatusOK, "Joined public hike.")
	})

	r.Post("/:id/leave", requireAuth, func(c *fiber.Ctx) error {
		if err := svc.Leave(c.UserContext(), caller(c), c.Params("id")); err != nil {
			return err
		}
		return detail(c, fiber.StatusOK, "Left hike.")
	})

	r.Post("/:id/cancel_request", requireAuth, func(c *fiber.Ctx) error {
		if err := svc.CancelRequest(c.UserContext(), caller(c), c.Params("id")); err != nil {
			return err
		}
		return detail(c, fiber.StatusOK, "Join request cancelled.")
	})

	r.Get("/:id/join_requests", requireAuth, func(c *fiber.Ctx) error {
		requests, err := svc.JoinRequests(c.UserContext(), caller(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(requests)
	})

	r.Post("/:id/approve_request", requireAuth, func(c *fiber.Ctx) error {
		var body requestIDBody
		if err := parseOptionalBody(c, &body); err != nil {
			return err
		}
		if err := svc.ApproveRequest(c.UserContext(), caller(c), c.Params("id"), body.RequestID); err != nil {
			return err
		}
		return detail(c, fiber.StatusOK, "Approved.")
	})

	r.Post("/:id/reject_request", requireAuth, func(c *fiber.Ctx) error {
		var body requestIDBody
		if err := parseOptionalBody(c, &body); err != nil {
			return err
		}
		if err := svc.RejectRequest(c.UserContext(), caller(c), c.Params("id"), body.RequestID); err != nil {
			return err
		}
		return detail(c, fiber.StatusOK, "Rejected.")
	})

	r.Post("/:id/remove_member", requireAuth, func(c *fiber.Ctx) error {
		var body userIDBody
		if err := parseOptionalBody(c, &body); err != nil {
			return err
		}
		if err := svc.RemoveMember(c.UserContext(), caller(c), c.Params("id"), body.UserID); err != nil {
			return err
		}
		return detail(c, fiber.StatusOK, "Member removed.")
	})

	r.Post("/:id/set_role", requireAuth, func(c *fiber.Ctx) error {
		var body userIDBody
		if err := parseOptionalBody(c, &body); err != nil {
			return err
		}
		if err := svc.SetRole(c.UserContext(), caller(c), c.Params("id"), body.UserID, body.Role); err != nil {
			return err
		}
		return detail(c, fiber.StatusOK, "Role updated.")
	})
}

// parseOptionalBody decodes the request body when one was sent. An empty body
// leaves dst zeroed so the service reports the missing field by name.
func parseOptionalBody(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dst); err != nil {
		return apperr.Validation("invalid payload")
	}
	return nil
}

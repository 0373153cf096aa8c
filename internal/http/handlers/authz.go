package handlers

import (
	"posuda/internal/domain"
	applog "posuda/internal/log"
	"posuda/internal/services"

	"github.com/gofiber/fiber/v2"
)

// LoadUser attaches the logged-in user, if any, to the request.
func LoadUser(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if sid := c.Cookies("sid"); sid != "" {
			if u, err := auth.CurrentUser(c.UserContext(), sid); err == nil && u != nil {
				c.Locals("user", u)
			}
		}
		return c.Next()
	}
}

func RequireAdmin(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies("sid")
		if sid == "" {
			return message(c, fiber.StatusUnauthorized, "Please log in")
		}
		u, err := auth.CurrentUser(c.UserContext(), sid)
		if err != nil || u == nil {
			return message(c, fiber.StatusUnauthorized, "Please log in")
		}
		if u.Role != domain.RoleAdmin {
			c.Locals("user", u)
			applog.Security(c, "access.denied.admin", nil)
			return message(c, fiber.StatusForbidden, "Access denied")
		}
		c.Locals("user", u)
		return c.Next()
	}
}

// RequireUser enforces that a user is logged in.
func RequireUser(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies("sid")
		if sid == "" {
			return message(c, fiber.StatusUnauthorized, "Please log in")
		}
		u, err := auth.CurrentUser(c.UserContext(), sid)
		if err != nil || u == nil {
			return message(c, fiber.StatusUnauthorized, "Please log in")
		}
		c.Locals("user", u)
		return c.Next()
	}
}

func userOf(c *fiber.Ctx) *domain.User {
	u, _ := c.Locals("user").(*domain.User)
	return u
}

func actorOf(c *fiber.Ctx) domain.Actor {
	u := userOf(c)
	if u == nil {
		return domain.Actor{Role: domain.ActorCustomer}
	}
	return u.Actor()
}

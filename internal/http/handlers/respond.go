package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"posuda/internal/domain"
	applog "posuda/internal/log"
	"posuda/internal/services"
)

const genericError = "Something went wrong. Please try again."

func message(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"message": msg})
}

func statusOf(err error) int {
	var fe *fiber.Error
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidStatus):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, services.ErrBadCreds):
		return fiber.StatusUnauthorized
	case errors.As(err, &fe):
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// fail writes err as a JSON error. Domain errors keep their message;
// anything else is logged and replaced by a generic one.
func fail(c *fiber.Ctx, action string, err error) error {
	status := statusOf(err)
	if status >= fiber.StatusInternalServerError {
		applog.Error(c, action+".fail", err, nil)
		return message(c, status, genericError)
	}
	applog.Info(c, action+".reject", map[string]any{"reason": err.Error()})
	return message(c, status, err.Error())
}

func badRequest(c *fiber.Ctx, field, msg string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return message(c, fiber.StatusBadRequest, msg)
}

// ErrorHandler is the app-wide fallback for errors returned by handlers
// and middleware.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return message(c, fe.Code, fe.Message)
	}
	applog.Error(c, "server.error", err, nil)
	return message(c, fiber.StatusInternalServerError, genericError)
}

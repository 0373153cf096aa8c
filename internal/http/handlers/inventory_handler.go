package handlers

import (
	"github.com/gofiber/fiber/v2"

	"posuda/internal/services"
	"posuda/internal/validate"
)

type InventoryHandler struct {
	Inv *services.InventoryService
}

func (h *InventoryHandler) Check(c *fiber.Ctx) error {
	productID, ok := validate.ID(c.Query("productId"))
	if !ok {
		return badRequest(c, "productId", "missing productId")
	}
	avail, err := h.Inv.CheckAvailability(c.UserContext(), productID)
	if err != nil {
		return fail(c, "availability.check", err)
	}
	return c.JSON(avail)
}

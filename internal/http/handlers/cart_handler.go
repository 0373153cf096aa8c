package handlers

import (
	"posuda/internal/domain"
	"posuda/internal/services"
	"posuda/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type CartHandler struct {
	Cart         *services.CartService
	SecureCookie bool
}

type addToCartRequest struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

func (h *CartHandler) Add(c *fiber.Ctx) error {
	var req addToCartRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	productID, ok := validate.ID(req.ProductID)
	if !ok {
		return badRequest(c, "productId", "missing productId")
	}
	sid := ensureSID(c, h.SecureCookie)
	if err := h.Cart.Add(c.UserContext(), sid, productID, validate.ClampQty(req.Qty)); err != nil {
		return fail(c, "cart.add", err)
	}
	return h.View(c)
}

// DELETE /cart/:productId
func (h *CartHandler) Remove(c *fiber.Ctx) error {
	productID, ok := validate.ID(c.Params("productId"))
	if !ok {
		return badRequest(c, "productId", "missing productId")
	}
	sid := ensureSID(c, h.SecureCookie)
	if err := h.Cart.Remove(c.UserContext(), sid, productID); err != nil {
		return fail(c, "cart.remove", err)
	}
	return h.View(c)
}

func (h *CartHandler) View(c *fiber.Ctx) error {
	sid := ensureSID(c, h.SecureCookie)
	cv, err := h.Cart.View(c.UserContext(), sid)
	if err != nil {
		return fail(c, "cart.view", err)
	}
	return c.JSON(cv)
}

type checkoutRequest struct {
	Recipient domain.Recipient `json:"recipient"`
}

// Checkout places an order from the session cart for the logged-in user.
func (h *CartHandler) Checkout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	rec, field, ok := checkRecipient(req.Recipient)
	if !ok {
		return badRequest(c, field, "recipient last, first and middle name are required")
	}
	u := userOf(c)
	o, err := h.Cart.Checkout(c.UserContext(), ensureSID(c, h.SecureCookie), u.ID, rec)
	if err != nil {
		return fail(c, "cart.checkout", err)
	}
	auditOrderPlaced(c, o)
	return c.Status(fiber.StatusCreated).JSON(o)
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"posuda/internal/domain"
	applog "posuda/internal/log"
	"posuda/internal/services"
	"posuda/internal/validate"
)

type OrderHandler struct {
	Orders *services.OrderService
}

type createOrderRequest struct {
	Items     []domain.LineRequest `json:"items"`
	Recipient domain.Recipient     `json:"recipient"`
}

// checkRecipient validates every name part, reporting the first bad field.
func checkRecipient(r domain.Recipient) (domain.Recipient, string, bool) {
	var ok bool
	if r.LastName, ok = validate.PersonName(r.LastName); !ok {
		return r, "recipient.lastName", false
	}
	if r.FirstName, ok = validate.PersonName(r.FirstName); !ok {
		return r, "recipient.firstName", false
	}
	if r.MiddleName, ok = validate.PersonName(r.MiddleName); !ok {
		return r, "recipient.middleName", false
	}
	return r, "", true
}

func auditOrderPlaced(c *fiber.Ctx, o domain.Order) {
	applog.Audit(c, "order.place", map[string]any{
		"order_id": o.ID,
		"items":    len(o.Items),
		"total":    o.TotalAmount.String(),
	})
}

// POST /orders
func (h *OrderHandler) Create(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	rec, field, ok := checkRecipient(req.Recipient)
	if !ok {
		return badRequest(c, field, "recipient last, first and middle name are required")
	}
	for _, it := range req.Items {
		if _, ok := validate.ID(it.ProductID); !ok {
			return badRequest(c, "items.product", "invalid product id")
		}
	}

	u := userOf(c)
	o, err := h.Orders.CreateOrder(c.UserContext(), u.ID, req.Items, rec)
	if err != nil {
		return fail(c, "order.place", err)
	}
	auditOrderPlaced(c, o)
	return c.Status(fiber.StatusCreated).JSON(o)
}

// GET /orders/my
func (h *OrderHandler) Mine(c *fiber.Ctx) error {
	orders, err := h.Orders.ListForUser(c.UserContext(), userOf(c).ID)
	if err != nil {
		return fail(c, "orders.history", err)
	}
	return c.JSON(orders)
}

func (h *OrderHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return message(c, fiber.StatusNotFound, "Order not found")
	}
	o, err := h.Orders.Get(c.UserContext(), id, actorOf(c))
	if err != nil {
		if statusOf(err) == fiber.StatusNotFound {
			applog.Security(c, "access.denied.order", map[string]any{"order_id": id})
			return message(c, fiber.StatusNotFound, "Order not found")
		}
		return fail(c, "order.get", err)
	}
	return c.JSON(o)
}

// PATCH /orders/:id/cancel
func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return message(c, fiber.StatusNotFound, "Order not found")
	}
	o, err := h.Orders.CancelOrder(c.UserContext(), id, actorOf(c))
	if err != nil {
		return fail(c, "order.cancel", err)
	}
	applog.Audit(c, "order.cancel", map[string]any{"order_id": id})
	return c.JSON(fiber.Map{"message": "Order cancelled", "order": o})
}

package handlers

import (
	"context"

	applog "posuda/internal/log"
	"posuda/internal/services"
	"posuda/internal/sweeper"
	"posuda/internal/validate"

	"github.com/gofiber/fiber/v2"
)

// Sweeper runs one pickup-deadline sweep on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (sweeper.Report, error)
}

type AdminHandler struct {
	Orders  *services.OrderService
	Catalog *services.CatalogService
	Sweeper Sweeper
}

func (h *AdminHandler) orderID(c *fiber.Ctx) (string, bool) {
	return validate.ID(c.Params("id"))
}

// GET /admin/orders?limit
func (h *AdminHandler) ListOrders(c *fiber.Ctx) error {
	ords, err := h.Orders.ListAll(c.UserContext(), validate.PositiveInt(c.Query("limit"), 100))
	if err != nil {
		return fail(c, "admin.orders.list", err)
	}
	return c.JSON(ords)
}

// GET /admin/orders/search?last4=
func (h *AdminHandler) SearchOrders(c *fiber.Ctx) error {
	last4, ok := validate.Last4(c.Query("last4"))
	if !ok {
		return badRequest(c, "last4", "last4 must be exactly 4 letters or digits")
	}
	grouped, err := h.Orders.SearchLast4(c.UserContext(), last4)
	if err != nil {
		return fail(c, "admin.orders.search", err)
	}
	return c.JSON(grouped)
}

func (h *AdminHandler) GetOrder(c *fiber.Ctx) error {
	id, ok := h.orderID(c)
	if !ok {
		return message(c, fiber.StatusNotFound, "Order not found")
	}
	o, err := h.Orders.Get(c.UserContext(), id, actorOf(c))
	if err != nil {
		return fail(c, "admin.orders.get", err)
	}
	return c.JSON(o)
}

type statusRequest struct {
	Status string `json:"status"`
}

// PATCH /admin/orders/:id/status
func (h *AdminHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	id, ok := h.orderID(c)
	if !ok {
		return message(c, fiber.StatusNotFound, "Order not found")
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil || req.Status == "" {
		return badRequest(c, "status", "missing status")
	}
	o, err := h.Orders.ChangeStatus(c.UserContext(), id, req.Status, actorOf(c))
	if err != nil {
		return fail(c, "admin.orders.update", err)
	}
	applog.Audit(c, "admin.orders.update", map[string]any{"order_id": id, "status": o.Status})
	return c.JSON(o)
}

// PATCH /admin/orders/:id/cancel
func (h *AdminHandler) CancelOrder(c *fiber.Ctx) error {
	id, ok := h.orderID(c)
	if !ok {
		return message(c, fiber.StatusNotFound, "Order not found")
	}
	o, err := h.Orders.CancelOrder(c.UserContext(), id, actorOf(c))
	if err != nil {
		return fail(c, "admin.orders.cancel", err)
	}
	applog.Audit(c, "admin.orders.cancel", map[string]any{"order_id": id})
	return c.JSON(fiber.Map{"message": "Order cancelled", "order": o})
}

// DELETE /admin/orders/:id
func (h *AdminHandler) DeleteOrder(c *fiber.Ctx) error {
	id, ok := h.orderID(c)
	if !ok {
		return message(c, fiber.StatusNotFound, "Order not found")
	}
	if err := h.Orders.DeleteOrder(c.UserContext(), id, actorOf(c)); err != nil {
		return fail(c, "admin.orders.delete", err)
	}
	applog.Audit(c, "admin.orders.delete", map[string]any{"order_id": id})
	return message(c, fiber.StatusOK, "Order deleted")
}

// POST /admin/orders/sweep
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	if h.Sweeper == nil {
		return message(c, fiber.StatusServiceUnavailable, "Sweeper is not running")
	}
	rep, err := h.Sweeper.RunOnce(c.UserContext())
	if err != nil {
		return fail(c, "admin.orders.sweep", err)
	}
	applog.Audit(c, "admin.orders.sweep", map[string]any{
		"scanned": rep.Scanned, "cancelled": rep.Cancelled, "failed": rep.Failed,
	})
	return c.JSON(rep)
}

// POST /admin/products
func (h *AdminHandler) CreateProduct(c *fiber.Ctx) error {
	var in services.ProductInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	p, err := h.Catalog.CreateProduct(c.UserContext(), in)
	if err != nil {
		return fail(c, "admin.products.create", err)
	}
	applog.Audit(c, "admin.products.create", map[string]any{"product": p.ID})
	return c.Status(fiber.StatusCreated).JSON(p)
}

// PUT /admin/products/:id
func (h *AdminHandler) UpdateProduct(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return message(c, fiber.StatusNotFound, "This item is no longer available")
	}
	var in services.ProductInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	p, err := h.Catalog.UpdateProduct(c.UserContext(), id, in)
	if err != nil {
		return fail(c, "admin.products.update", err)
	}
	applog.Audit(c, "admin.products.update", map[string]any{"product": id})
	return c.JSON(p)
}

// DELETE /admin/products/:id
func (h *AdminHandler) DeleteProduct(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return message(c, fiber.StatusNotFound, "This item is no longer available")
	}
	if err := h.Catalog.DeleteProduct(c.UserContext(), id); err != nil {
		return fail(c, "admin.products.delete", err)
	}
	applog.Audit(c, "admin.products.delete", map[string]any{"product": id})
	return message(c, fiber.StatusOK, "Product deleted")
}

type stockRequest struct {
	Stock *int `json:"stock"`
}

// PUT /admin/products/:id/stock
func (h *AdminHandler) UpdateStock(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	var req stockRequest
	if err := c.BodyParser(&req); err != nil || !ok || req.Stock == nil || *req.Stock < 0 {
		return badRequest(c, "stock", "invalid input")
	}
	if err := h.Catalog.SetStock(c.UserContext(), id, *req.Stock); err != nil {
		return fail(c, "admin.inventory.save", err)
	}
	applog.Audit(c, "admin.inventory.save", map[string]any{"product": id, "qty": *req.Stock})
	return c.JSON(fiber.Map{"product": id, "stock": *req.Stock})
}

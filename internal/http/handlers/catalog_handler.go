package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"posuda/internal/services"
	"posuda/internal/validate"
)

type CatalogHandler struct {
	Catalog *services.CatalogService
}

// GET /products?page&limit
func (h *CatalogHandler) List(c *fiber.Ctx) error {
	page := validate.PositiveInt(c.Query("page"), 1)
	limit := validate.PositiveInt(c.Query("limit"), services.DefaultPageSize)
	res, err := h.Catalog.ListProducts(c.UserContext(), page, limit)
	if err != nil {
		return fail(c, "products.list", err)
	}
	return c.JSON(res)
}

// GET /products/search?q=
func (h *CatalogHandler) Search(c *fiber.Ctx) error {
	q, ok := validate.Q(c.Query("q"))
	if !ok {
		return badRequest(c, "q", "enter a search term (letters, numbers, spaces)")
	}
	products, err := h.Catalog.Search(c.UserContext(), q)
	if err != nil {
		return fail(c, "products.search", err)
	}
	return c.JSON(fiber.Map{"products": products, "query": q})
}

func (h *CatalogHandler) Categories(c *fiber.Ctx) error {
	cats, err := h.Catalog.Categories(c.UserContext())
	if err != nil {
		return fail(c, "products.categories", err)
	}
	return c.JSON(fiber.Map{"categories": cats})
}

// GET /products/category/:category
func (h *CatalogHandler) ByCategory(c *fiber.Ctx) error {
	category, err := url.PathUnescape(c.Params("category"))
	if err != nil {
		return badRequest(c, "category", "invalid category")
	}
	products, err := h.Catalog.ListByCategory(c.UserContext(), category)
	if err != nil {
		return fail(c, "products.category", err)
	}
	return c.JSON(fiber.Map{"products": products, "category": category})
}

// GET /products/:id
func (h *CatalogHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return message(c, fiber.StatusNotFound, "This item is no longer available")
	}
	p, err := h.Catalog.GetProduct(c.UserContext(), id)
	if err != nil {
		return fail(c, "products.get", err)
	}
	return c.JSON(p)
}

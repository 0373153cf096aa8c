package handlers

import (
	"posuda/internal/cache"
	"posuda/internal/clock"
	"posuda/internal/config"
	"posuda/internal/repos"
	"posuda/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
)

type Deps struct {
	AuthHandler      *AuthHandler
	CatalogHandler   *CatalogHandler
	InventoryHandler *InventoryHandler
	CartHandler      *CartHandler
	OrderHandler     *OrderHandler
	AdminHandler     *AdminHandler

	Auth    *services.AuthService
	Orders  *services.OrderService
	Catalog *services.CatalogService
	Cache   services.Cache // nil when Redis is off
}

type cacheStats interface {
	Stats() cache.StatsSnapshot
}

// Health reports liveness and, when a Redis cache is wired, its counters.
func (d *Deps) Health(c *fiber.Ctx) error {
	body := fiber.Map{"ok": true}
	if cs, ok := d.Cache.(cacheStats); ok {
		body["cache"] = cs.Stats()
	}
	return c.JSON(body)
}

// NewDeps wires repositories, services and handlers. productCache may be nil.
func NewDeps(db *sqlx.DB, cfg config.Config, clk clock.Clock, productCache services.Cache) *Deps {
	catRepo := repos.NewCategoryRepo(db)
	prodRepo := repos.NewProductRepo(db)
	stockRepo := repos.NewStockRepo(db)
	cartRepo := repos.NewCartRepo(db)
	orderRepo := repos.NewOrderRepo(db)
	userRepo := repos.NewUserRepo(db)

	authSvc := &services.AuthService{Users: userRepo}
	catalogSvc := services.NewCatalogService(catRepo, prodRepo, stockRepo, clk)
	catalogSvc.Cache = productCache
	invSvc := services.NewInventoryService(stockRepo)
	orderSvc := services.NewOrderService(db, prodRepo, stockRepo, orderRepo, clk)
	orderSvc.Cache = productCache
	cartSvc := services.NewCartService(cartRepo, prodRepo, orderSvc)

	return &Deps{
		AuthHandler:      &AuthHandler{Auth: authSvc, SecureCookie: cfg.CookieSecure},
		CatalogHandler:   &CatalogHandler{Catalog: catalogSvc},
		InventoryHandler: &InventoryHandler{Inv: invSvc},
		CartHandler:      &CartHandler{Cart: cartSvc, SecureCookie: cfg.CookieSecure},
		OrderHandler:     &OrderHandler{Orders: orderSvc},
		AdminHandler:     &AdminHandler{Orders: orderSvc, Catalog: catalogSvc},

		Auth:    authSvc,
		Orders:  orderSvc,
		Catalog: catalogSvc,
		Cache:   productCache,
	}
}

// Register mounts the JSON API on r (normally the /api/v1 group).
func Register(r fiber.Router, d *Deps) {
	r.Get("/healthz", d.Health)

	r.Post("/auth/login", d.AuthHandler.Login)
	r.Post("/auth/logout", d.AuthHandler.Logout)
	r.Get("/auth/me", RequireUser(d.Auth), d.AuthHandler.Me)

	r.Get("/products", d.CatalogHandler.List)
	r.Get("/products/search", d.CatalogHandler.Search)
	r.Get("/products/categories", d.CatalogHandler.Categories)
	r.Get("/products/category/:category", d.CatalogHandler.ByCategory)
	r.Get("/products/:id", d.CatalogHandler.Get)
	r.Get("/availability", d.InventoryHandler.Check)

	r.Get("/cart", d.CartHandler.View)
	r.Post("/cart", d.CartHandler.Add)
	r.Post("/cart/checkout", RequireUser(d.Auth), d.CartHandler.Checkout)
	r.Delete("/cart/:productId", d.CartHandler.Remove)

	orders := r.Group("/orders", RequireUser(d.Auth))
	orders.Post("/", d.OrderHandler.Create)
	orders.Get("/my", d.OrderHandler.Mine)
	orders.Get("/:id", d.OrderHandler.Get)
	orders.Patch("/:id/cancel", d.OrderHandler.Cancel)

	admin := r.Group("/admin", RequireAdmin(d.Auth))
	admin.Get("/orders", d.AdminHandler.ListOrders)
	admin.Get("/orders/search", d.AdminHandler.SearchOrders)
	admin.Post("/orders/sweep", d.AdminHandler.Sweep)
	admin.Get("/orders/:id", d.AdminHandler.GetOrder)
	admin.Patch("/orders/:id/status", d.AdminHandler.UpdateOrderStatus)
	admin.Patch("/orders/:id/cancel", d.AdminHandler.CancelOrder)
	admin.Delete("/orders/:id", d.AdminHandler.DeleteOrder)
	admin.Post("/products", d.AdminHandler.CreateProduct)
	admin.Put("/products/:id", d.AdminHandler.UpdateProduct)
	admin.Delete("/products/:id", d.AdminHandler.DeleteProduct)
	admin.Put("/products/:id/stock", d.AdminHandler.UpdateStock)
}

package services_test

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"posuda/internal/clock"
	"posuda/internal/domain"
	"posuda/internal/repos"
	"posuda/internal/services"
)

var (
	alice = domain.Actor{UserID: "u-alice", Role: domain.ActorCustomer}
	bob   = domain.Actor{UserID: "u-bob", Role: domain.ActorCustomer}
	admin = domain.Actor{UserID: "u-admin", Role: domain.ActorAdmin}

	recipient = domain.Recipient{LastName: "Ivanova", FirstName: "Anna", MiddleName: "Petrovna"}
	epoch     = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

type env struct {
	db      *sqlx.DB
	clk     *clock.Fake
	stock   *repos.StockRepo
	prods   *repos.ProductRepo
	orders  *services.OrderService
	catalog *services.CatalogService
	inv     *services.InventoryService
	cart    *services.CartService
}

// newEnv opens a seeded in-memory store:
// pot-001=8, pan-001=5, plate-001=24, cup-001=1, knife-001=0.
func newEnv(t *testing.T) env {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewFake(epoch)
	prods := repos.NewProductRepo(db)
	stock := repos.NewStockRepo(db)
	orders := services.NewOrderService(db, prods, stock, repos.NewOrderRepo(db), clk)
	return env{
		db:      db,
		clk:     clk,
		stock:   stock,
		prods:   prods,
		orders:  orders,
		catalog: services.NewCatalogService(repos.NewCategoryRepo(db), prods, stock, clk),
		inv:     services.NewInventoryService(stock),
		cart:    services.NewCartService(repos.NewCartRepo(db), prods, orders),
	}
}

func (e env) qty(t *testing.T, productID string) int {
	t.Helper()
	n, err := e.stock.Qty(t.Context(), productID)
	require.NoError(t, err)
	return n
}

func (e env) place(t *testing.T, who domain.Actor, lines ...domain.LineRequest) domain.Order {
	t.Helper()
	o, err := e.orders.CreateOrder(t.Context(), who.UserID, lines, recipient)
	require.NoError(t, err)
	return o
}

func line(productID string, qty int) domain.LineRequest {
	return domain.LineRequest{ProductID: productID, Quantity: qty}
}

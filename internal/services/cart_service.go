package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"posuda/internal/domain"
	applog "posuda/internal/log"
	"posuda/internal/repos"
)

type CartService struct {
	Carts  *repos.CartRepo
	Prods  *repos.ProductRepo
	Orders *OrderService
}

func NewCartService(carts *repos.CartRepo, prods *repos.ProductRepo, orders *OrderService) *CartService {
	return &CartService{Carts: carts, Prods: prods, Orders: orders}
}

func (s *CartService) Add(ctx context.Context, sessionID, productID string, qty int) error {
	if qty < 1 {
		qty = 1
	}
	cartID, err := s.Carts.EnsureCart(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.Prods.Get(ctx, productID); err != nil {
		return err
	}
	return s.Carts.UpsertItem(ctx, cartID, productID, qty)
}

func (s *CartService) Remove(ctx context.Context, sessionID, productID string) error {
	cartID, err := s.Carts.EnsureCart(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.Carts.RemoveItem(ctx, cartID, productID)
}

type CartView struct {
	Items []repos.CartItemRow `json:"items"`
	Total decimal.Decimal     `json:"total"`
}

// View prices the cart at current product prices.
func (s *CartService) View(ctx context.Context, sessionID string) (CartView, error) {
	cartID, err := s.Carts.EnsureCart(ctx, sessionID)
	if err != nil {
		return CartView{}, err
	}
	items, total, err := s.Carts.View(ctx, cartID)
	if err != nil {
		return CartView{}, err
	}
	return CartView{Items: items, Total: total}, nil
}

// Checkout turns the session cart into an order for userID. The cart is
// emptied only once the order exists.
func (s *CartService) Checkout(ctx context.Context, sessionID, userID string, recipient domain.Recipient) (domain.Order, error) {
	cartID, err := s.Carts.EnsureCart(ctx, sessionID)
	if err != nil {
		return domain.Order{}, err
	}
	items, err := s.Carts.Items(ctx, cartID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: cart is empty", domain.ErrValidation)
	}

	lines := make([]domain.LineRequest, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.LineRequest{ProductID: it.ProductID, Quantity: it.Qty})
	}
	order, err := s.Orders.CreateOrder(ctx, userID, lines, recipient)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.Carts.Clear(ctx, cartID); err != nil {
		applog.Warn(nil, "cart.clear.fail", err, map[string]any{"order_id": order.ID})
	}
	return order, nil
}

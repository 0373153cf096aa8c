package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"posuda/internal/clock"
	"posuda/internal/domain"
	applog "posuda/internal/log"
	"posuda/internal/repos"
)

// OrderService owns the order lifecycle. Every operation that moves stock
// runs in one transaction with the order write it belongs to.
type OrderService struct {
	DB       *sqlx.DB
	Products *repos.ProductRepo
	Stock    *repos.StockRepo
	Orders   *repos.OrderRepo
	Clock    clock.Clock
	Cache    Cache
}

func NewOrderService(db *sqlx.DB, prods *repos.ProductRepo, stock *repos.StockRepo, orders *repos.OrderRepo, clk clock.Clock) *OrderService {
	return &OrderService{DB: db, Products: prods, Stock: stock, Orders: orders, Clock: clk}
}

// txRepos are the repositories bound to one transaction.
type txRepos struct {
	products *repos.ProductRepo
	stock    *repos.StockRepo
	orders   *repos.OrderRepo
}

func (s *OrderService) inTx(ctx context.Context, fn func(r txRepos) error) error {
	return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		return fn(txRepos{
			products: s.Products.WithTx(tx),
			stock:    s.Stock.WithTx(tx),
			orders:   s.Orders.WithTx(tx),
		})
	})
}

// mergeLines validates requested lines and folds duplicates of the same
// product into one line, keeping first-seen order.
func mergeLines(lines []domain.LineRequest) ([]domain.LineRequest, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order has no items", domain.ErrValidation)
	}
	out := make([]domain.LineRequest, 0, len(lines))
	index := make(map[string]int, len(lines))
	for i, l := range lines {
		id := strings.TrimSpace(l.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: item %d has no product", domain.ErrValidation, i)
		}
		if l.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", domain.ErrValidation, i)
		}
		if l.Quantity > domain.MaxLineQuantity {
			return nil, fmt.Errorf("%w: item %d quantity exceeds %d", domain.ErrValidation, i, domain.MaxLineQuantity)
		}
		if j, ok := index[id]; ok {
			if out[j].Quantity > domain.MaxLineQuantity-l.Quantity {
				return nil, fmt.Errorf("%w: %s quantity exceeds %d", domain.ErrValidation, id, domain.MaxLineQuantity)
			}
			out[j].Quantity += l.Quantity
			continue
		}
		index[id] = len(out)
		out = append(out, domain.LineRequest{ProductID: id, Quantity: l.Quantity})
	}
	return out, nil
}

// CreateOrder reserves stock for every line and stores a new unconfirmed
// order. Either all of it happens or none of it does.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, lines []domain.LineRequest, recipient domain.Recipient) (domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order has no owner", domain.ErrValidation)
	}
	rec, ok := recipient.Normalize()
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: recipient last, first and middle name are required", domain.ErrValidation)
	}
	merged, err := mergeLines(lines)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.Clock.Now()
	order := domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     make([]domain.OrderItem, 0, len(merged)),
		Recipient: rec,
		Status:    domain.StatusUnconfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.inTx(ctx, func(r txRepos) error {
		for _, l := range merged {
			p, err := r.products.Get(ctx, l.ProductID)
			if err != nil {
				return err
			}
			if l.Quantity > p.Stock {
				return fmt.Errorf("%w: %s (need %d, have %d)", domain.ErrInsufficientStock, p.Name, l.Quantity, p.Stock)
			}
			if err := r.stock.Decrement(ctx, p.ID, l.Quantity, now); err != nil {
				return err
			}
			order.Items = append(order.Items, domain.OrderItem{
				ProductID: p.ID,
				Quantity:  l.Quantity,
				Price:     p.Price,
				Name:      p.Name,
				Image:     p.MainImage(),
			})
		}
		order.TotalAmount = domain.ComputeTotal(order.Items)
		return r.orders.Insert(ctx, order)
	})
	if err != nil {
		return domain.Order{}, err
	}

	invalidateProducts(ctx, s.Cache, itemProductIDs(order.Items)...)
	return order, nil
}

// Get returns an order visible to actor. Customers only see their own.
func (s *OrderService) Get(ctx context.Context, id string, actor domain.Actor) (domain.Order, error) {
	o, err := s.Orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !visibleTo(o, actor) {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return o, nil
}

func visibleTo(o domain.Order, actor domain.Actor) bool {
	return actor.Role != domain.ActorCustomer || o.UserID == actor.UserID
}

func (s *OrderService) ListForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.Orders.ListByUser(ctx, userID)
}

func (s *OrderService) ListAll(ctx context.Context, limit int) ([]domain.Order, error) {
	return s.Orders.ListLatest(ctx, limit)
}

// SearchLast4 finds orders by the last four characters of their id and
// groups them by status. Every status key is present.
func (s *OrderService) SearchLast4(ctx context.Context, last4 string) (map[domain.Status][]domain.Order, error) {
	last4 = strings.TrimSpace(last4)
	if utf8.RuneCountInString(last4) != 4 {
		return nil, fmt.Errorf("%w: last4 must be exactly 4 characters", domain.ErrValidation)
	}
	orders, err := s.Orders.ListBySuffix(ctx, last4)
	if err != nil {
		return nil, err
	}
	grouped := make(map[domain.Status][]domain.Order, len(domain.Statuses))
	for _, st := range domain.Statuses {
		grouped[st] = []domain.Order{}
	}
	for _, o := range orders {
		grouped[o.Status] = append(grouped[o.Status], o)
	}
	return grouped, nil
}

// ListReadyBefore returns ready orders whose readyAt is at or before cutoff.
func (s *OrderService) ListReadyBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error) {
	return s.Orders.ListReadyBefore(ctx, cutoff)
}

// CancelOrder returns the order's units to stock and marks it cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, id string, actor domain.Actor) (domain.Order, error) {
	var out domain.Order
	err := s.inTx(ctx, func(r txRepos) error {
		o, err := r.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		if !visibleTo(o, actor) {
			return fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
		}
		if err := domain.CheckTransition(o.Status, domain.StatusCancelled, actor.Role); err != nil {
			return err
		}
		out, err = s.cancel(ctx, r, o)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	invalidateProducts(ctx, s.Cache, itemProductIDs(out.Items)...)
	return out, nil
}

// cancel restores stock for o and then flips its status, guarded on the
// status o was read with.
func (s *OrderService) cancel(ctx context.Context, r txRepos, o domain.Order) (domain.Order, error) {
	now := s.Clock.Now()
	if err := s.restore(ctx, r, o, now); err != nil {
		return domain.Order{}, err
	}
	if err := s.moveStatus(ctx, r, o, domain.StatusCancelled, nil, now); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.StatusCancelled
	o.UpdatedAt = now
	return o, nil
}

func (s *OrderService) restore(ctx context.Context, r txRepos, o domain.Order, now time.Time) error {
	for _, it := range o.Items {
		ok, err := r.stock.Restore(ctx, it.ProductID, it.Quantity, now)
		if err != nil {
			return err
		}
		if !ok {
			applog.Info(nil, "order.restore.skip", map[string]any{
				"order_id": o.ID, "product_id": it.ProductID, "qty": it.Quantity,
			})
		}
	}
	return nil
}

func (s *OrderService) moveStatus(ctx context.Context, r txRepos, o domain.Order, to domain.Status, readyAt *time.Time, now time.Time) error {
	ok, err := r.orders.UpdateStatus(ctx, o.ID, o.Status, to, readyAt, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order %s is no longer %s", domain.ErrInvalidTransition, o.ID, o.Status)
	}
	return nil
}

// ChangeStatus is the administrative status change. Moves into cancelled
// restore stock and reinstating a cancelled order reserves it again.
func (s *OrderService) ChangeStatus(ctx context.Context, id, status string, actor domain.Actor) (domain.Order, error) {
	to, err := domain.ParseStatus(status)
	if err != nil {
		return domain.Order{}, err
	}
	if actor.Role != domain.ActorAdmin {
		return domain.Order{}, fmt.Errorf("%w: only admins change order status", domain.ErrForbidden)
	}

	var (
		out          domain.Order
		stockTouched bool
	)
	err = s.inTx(ctx, func(r txRepos) error {
		o, err := r.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(o.Status, to, actor.Role); err != nil {
			return err
		}

		if to == domain.StatusCancelled {
			stockTouched = true
			out, err = s.cancel(ctx, r, o)
			return err
		}

		now := s.Clock.Now()
		if o.Status == domain.StatusCancelled {
			stockTouched = true
			for _, it := range o.Items {
				if err := r.stock.Decrement(ctx, it.ProductID, it.Quantity, now); err != nil {
					return err
				}
			}
		}

		var readyAt *time.Time
		if to == domain.StatusReady {
			readyAt = &now
			o.ReadyAt = readyAt
		}
		if err := s.moveStatus(ctx, r, o, to, readyAt, now); err != nil {
			return err
		}
		o.Status = to
		o.UpdatedAt = now
		out = o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if stockTouched {
		invalidateProducts(ctx, s.Cache, itemProductIDs(out.Items)...)
	}
	return out, nil
}

// DeleteOrder hard-deletes an order. Stock comes back first unless the order
// was already cancelled.
func (s *OrderService) DeleteOrder(ctx context.Context, id string, actor domain.Actor) error {
	if actor.Role != domain.ActorAdmin {
		return fmt.Errorf("%w: only admins delete orders", domain.ErrForbidden)
	}
	var deleted domain.Order
	err := s.inTx(ctx, func(r txRepos) error {
		o, err := r.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != domain.StatusCancelled {
			if err := s.restore(ctx, r, o, s.Clock.Now()); err != nil {
				return err
			}
		}
		deleted = o
		return r.orders.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	if deleted.Status != domain.StatusCancelled {
		invalidateProducts(ctx, s.Cache, itemProductIDs(deleted.Items)...)
	}
	return nil
}

func itemProductIDs(items []domain.OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"posuda/internal/domain"
)

type OrderRepo struct{ db sqlx.ExtContext }

func NewOrderRepo(db *sqlx.DB) *OrderRepo { return &OrderRepo{db: db} }

func (r *OrderRepo) WithTx(tx *sqlx.Tx) *OrderRepo { return &OrderRepo{db: tx} }

type orderRow struct {
	ID         string          `db:"id"`
	UserID     string          `db:"user_id"`
	Total      decimal.Decimal `db:"total_amount"`
	LastName   string          `db:"recipient_last_name"`
	FirstName  string          `db:"recipient_first_name"`
	MiddleName string          `db:"recipient_middle_name"`
	Status     string          `db:"status"`
	CreatedAt  string          `db:"created_at"`
	UpdatedAt  string          `db:"updated_at"`
	ReadyAt    sql.NullString  `db:"ready_at"`
}

type orderItemRow struct {
	OrderID   string          `db:"order_id"`
	Line      int             `db:"line"`
	ProductID string          `db:"product_id"`
	Quantity  int             `db:"quantity"`
	Price     decimal.Decimal `db:"price"`
	Name      string          `db:"name"`
	Image     string          `db:"image"`
}

func (row orderRow) toDomain(items []domain.OrderItem) domain.Order {
	o := domain.Order{
		ID:          row.ID,
		UserID:      row.UserID,
		Items:       items,
		TotalAmount: row.Total,
		Recipient: domain.Recipient{
			LastName:   row.LastName,
			FirstName:  row.FirstName,
			MiddleName: row.MiddleName,
		},
		Status:    domain.Status(row.Status),
		CreatedAt: parseTS(row.CreatedAt),
		UpdatedAt: parseTS(row.UpdatedAt),
	}
	if o.Items == nil {
		o.Items = []domain.OrderItem{}
	}
	if row.ReadyAt.Valid {
		t := parseTS(row.ReadyAt.String)
		o.ReadyAt = &t
	}
	return o
}

const orderCols = `id, user_id, total_amount, recipient_last_name, recipient_first_name,
	recipient_middle_name, status, created_at, updated_at, ready_at`

// Insert writes the order header and all of its line items.
func (r *OrderRepo) Insert(ctx context.Context, o domain.Order) error {
	var readyAt any
	if o.ReadyAt != nil {
		readyAt = ts(*o.ReadyAt)
	}
	_, err := r.db.ExecContext(ctx, `
	  INSERT INTO orders(`+orderCols+`)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.UserID, o.TotalAmount.String(), o.Recipient.LastName, o.Recipient.FirstName,
		o.Recipient.MiddleName, string(o.Status), ts(o.CreatedAt), ts(o.UpdatedAt), readyAt)
	if err != nil {
		return err
	}
	for i, it := range o.Items {
		if _, err := r.db.ExecContext(ctx, `
		  INSERT INTO order_items(order_id, line, product_id, quantity, price, name, image)
		  VALUES (?, ?, ?, ?, ?, ?, ?)
		`, o.ID, i, it.ProductID, it.Quantity, it.Price.String(), it.Name, it.Image); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id string) (domain.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, r.db, &row, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Order{}, err
	}
	orders, err := r.withItems(ctx, []orderRow{row})
	if err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepo) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
}

func (r *OrderRepo) ListLatest(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT `+orderCols+` FROM orders
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
}

// ListBySuffix finds orders whose id ends with suffix.
func (r *OrderRepo) ListBySuffix(ctx context.Context, suffix string) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE LOWER(substr(id, ?)) = LOWER(?)
		ORDER BY created_at DESC
	`, -len(suffix), suffix)
}

// ListReadyBefore returns orders still in "ready" whose readyAt is at or
// before cutoff.
func (r *OrderRepo) ListReadyBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status = ? AND ready_at IS NOT NULL AND ready_at <= ?
		ORDER BY ready_at
	`, string(domain.StatusReady), ts(cutoff))
}

// UpdateStatus moves an order from "from" to "to" only if it is still in
// "from". readyAt is written only when non-nil. It reports whether the row
// was updated.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id string, from, to domain.Status, readyAt *time.Time, now time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if readyAt != nil {
		res, err = r.db.ExecContext(ctx, `
			UPDATE orders SET status = ?, ready_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(to), ts(*readyAt), ts(now), id, string(from))
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE orders SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(to), ts(now), id, string(from))
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Delete removes an order; its items go with it (ON DELETE CASCADE).
func (r *OrderRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "order "+id)
}

func (r *OrderRepo) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, err
	}
	return r.withItems(ctx, rows)
}

// withItems loads line items for all rows in one query.
func (r *OrderRepo) withItems(ctx context.Context, rows []orderRow) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	query, args, err := sqlx.In(`
		SELECT order_id, line, product_id, quantity, price, name, image
		FROM order_items
		WHERE order_id IN (?)
		ORDER BY order_id, line
	`, ids)
	if err != nil {
		return nil, err
	}
	var items []orderItemRow
	if err := sqlx.SelectContext(ctx, r.db, &items, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	byOrder := make(map[string][]domain.OrderItem, len(rows))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], domain.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Name:      it.Name,
			Image:     it.Image,
		})
	}
	for _, row := range rows {
		out = append(out, row.toDomain(byOrder[row.ID]))
	}
	return out, nil
}

package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type CartRepo struct{ db *sqlx.DB }

func NewCartRepo(db *sqlx.DB) *CartRepo { return &CartRepo{db: db} }

// CartItemRow is a cart line joined with the product's live price and stock.
type CartItemRow struct {
	ProductID string          `db:"product_id" json:"product"`
	Name      string          `db:"name" json:"name"`
	Qty       int             `db:"qty" json:"quantity"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	Subtotal  decimal.Decimal `db:"-" json:"subtotal"`
}

func (r *CartRepo) EnsureCart(ctx context.Context, sessionID string) (string, error) {
	var cartID string
	if err := r.db.GetContext(ctx, &cartID, `SELECT id FROM carts WHERE session_id = ?`, sessionID); err == nil {
		return cartID, nil
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO carts(id,session_id,updated_at) VALUES(?,?,?)`,
		sessionID, sessionID, ts(time.Now()))
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (r *CartRepo) UpsertItem(ctx context.Context, cartID, productID string, qty int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items(cart_id,product_id,qty,created_at)
		VALUES(?,?,?,CURRENT_TIMESTAMP)
		ON CONFLICT(cart_id,product_id) DO UPDATE
		SET qty = cart_items.qty + excluded.qty, updated_at = CURRENT_TIMESTAMP
	`, cartID, productID, qty)
	return err
}

func (r *CartRepo) RemoveItem(ctx context.Context, cartID, productID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID)
	return err
}

func (r *CartRepo) View(ctx context.Context, cartID string) ([]CartItemRow, decimal.Decimal, error) {
	rows := []CartItemRow{}
	if err := r.db.SelectContext(ctx, &rows, `
	  SELECT ci.product_id, p.name, ci.qty, p.price, p.stock
	  FROM cart_items ci JOIN products p ON p.id = ci.product_id
	  WHERE ci.cart_id = ?
	  ORDER BY p.name
	`, cartID); err != nil {
		return nil, decimal.Zero, err
	}
	total := decimal.Zero
	for i := range rows {
		rows[i].Subtotal = rows[i].Price.Mul(decimal.NewFromInt(int64(rows[i].Qty)))
		total = total.Add(rows[i].Subtotal)
	}
	return rows, total, nil
}

type CartItem struct {
	ProductID string `db:"product_id"`
	Qty       int    `db:"qty"`
}

func (r *CartRepo) Items(ctx context.Context, cartID string) ([]CartItem, error) {
	var out []CartItem
	err := r.db.SelectContext(ctx, &out, `
	  SELECT product_id, qty FROM cart_items WHERE cart_id = ? ORDER BY created_at, product_id
	`, cartID)
	return out, err
}

func (r *CartRepo) Clear(ctx context.Context, cartID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID)
	return err
}

package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"posuda/internal/domain"
)

// StockRepo owns every mutation of products.stock.
type StockRepo struct{ db sqlx.ExtContext }

func NewStockRepo(db *sqlx.DB) *StockRepo { return &StockRepo{db: db} }

func (r *StockRepo) WithTx(tx *sqlx.Tx) *StockRepo { return &StockRepo{db: tx} }

// Qty returns current stock for a product.
// If the product does not exist, it returns sql.ErrNoRows.
func (r *StockRepo) Qty(ctx context.Context, productID string) (int, error) {
	var qty int
	err := sqlx.GetContext(ctx, r.db, &qty, `SELECT stock FROM products WHERE id = ?`, productID)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// Decrement atomically subtracts "by" units if enough stock exists.
// Returns ErrInsufficientStock if there isn't, ErrNotFound if the product is gone.
func (r *StockRepo) Decrement(ctx context.Context, productID string, by int, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?
	`, by, ts(now), productID, by)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	have, err := r.Qty(ctx, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: product %s (need %d, have %d)", domain.ErrInsufficientStock, productID, by, have)
}

// Restore adds "by" units back. It reports false when the product no longer
// exists, which is not an error: the units have nowhere to go.
func (r *StockRepo) Restore(ctx context.Context, productID string, by int, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, updated_at = ?
		WHERE id = ?
	`, by, ts(now), productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Set overwrites stock for an admin edit.
func (r *StockRepo) Set(ctx context.Context, productID string, qty int, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products SET stock = ?, updated_at = ? WHERE id = ?
	`, qty, ts(now), productID)
	if err != nil {
		return err
	}
	return requireAffected(res, "product "+productID)
}

package repos

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type CategoryRepo struct{ db *sqlx.DB }

func NewCategoryRepo(db *sqlx.DB) *CategoryRepo { return &CategoryRepo{db: db} }

// List returns the distinct product categories in name order.
func (r *CategoryRepo) List(ctx context.Context) ([]string, error) {
	out := []string{}
	err := r.db.SelectContext(ctx, &out, `
	  SELECT DISTINCT category
	  FROM products
	  WHERE category <> ''
	  ORDER BY category
	`)
	return out, err
}

package repos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"posuda/internal/domain"
)

type ProductRepo struct{ db sqlx.ExtContext }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *ProductRepo) WithTx(tx *sqlx.Tx) *ProductRepo { return &ProductRepo{db: tx} }

type productRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Price       decimal.Decimal `db:"price"`
	Stock       int             `db:"stock"`
	Category    string          `db:"category"`
	ImagesJSON  string          `db:"images_json"`
	CreatedAt   string          `db:"created_at"`
	UpdatedAt   string          `db:"updated_at"`
}

func (row productRow) toDomain() domain.Product {
	var images []string
	_ = json.Unmarshal([]byte(row.ImagesJSON), &images)
	if images == nil {
		images = []string{}
	}
	return domain.Product{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Price:       row.Price,
		Stock:       row.Stock,
		Category:    row.Category,
		Images:      images,
		CreatedAt:   parseTS(row.CreatedAt),
		UpdatedAt:   parseTS(row.UpdatedAt),
	}
}

func toProducts(rows []productRow) []domain.Product {
	out := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}

const productCols = `id, name, description, price, stock, category, images_json, created_at, updated_at`

func (r *ProductRepo) List(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	var rows []productRow
	err := sqlx.SelectContext(ctx, r.db, &rows, `
	  SELECT `+productCols+`
	  FROM products
	  ORDER BY created_at DESC, id
	  LIMIT ? OFFSET ?
	`, limit, offset)
	return toProducts(rows), err
}

func (r *ProductRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM products`)
	return n, err
}

func (r *ProductRepo) Get(ctx context.Context, id string) (domain.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, r.db, &row, `SELECT `+productCols+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return row.toDomain(), nil
}

func (r *ProductRepo) ListByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	var rows []productRow
	err := sqlx.SelectContext(ctx, r.db, &rows, `
	  SELECT `+productCols+`
	  FROM products
	  WHERE category = ?
	  ORDER BY created_at DESC, id
	`, category)
	return toProducts(rows), err
}

// Search matches q against name, description and category, case-insensitively.
func (r *ProductRepo) Search(ctx context.Context, q string, limit int) ([]domain.Product, error) {
	like := "%" + strings.ToLower(q) + "%"
	var rows []productRow
	err := sqlx.SelectContext(ctx, r.db, &rows, `
	  SELECT `+productCols+`
	  FROM products
	  WHERE LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(category) LIKE ?
	  ORDER BY created_at DESC, id
	  LIMIT ?
	`, like, like, like, limit)
	return toProducts(rows), err
}

func (r *ProductRepo) Create(ctx context.Context, p domain.Product) error {
	images, err := json.Marshal(p.Images)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	  INSERT INTO products(`+productCols+`)
	  VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.Category, string(images), ts(p.CreatedAt), ts(p.UpdatedAt))
	return err
}

// Update overwrites the editable fields of a product. Stock is left alone.
func (r *ProductRepo) Update(ctx context.Context, p domain.Product) error {
	images, err := json.Marshal(p.Images)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
	  UPDATE products
	  SET name = ?, description = ?, price = ?, category = ?, images_json = ?, updated_at = ?
	  WHERE id = ?
	`, p.Name, p.Description, p.Price.String(), p.Category, string(images), ts(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "product "+p.ID)
}

func (r *ProductRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "product "+id)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return nil
}

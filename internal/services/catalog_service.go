package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"posuda/internal/clock"
	"posuda/internal/domain"
	"posuda/internal/repos"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
	searchLimit     = 50
)

type CatalogService struct {
	Cats  *repos.CategoryRepo
	Prods *repos.ProductRepo
	Stock *repos.StockRepo
	Clock clock.Clock
	Cache Cache

	sf singleflight.Group
}

func NewCatalogService(cats *repos.CategoryRepo, prods *repos.ProductRepo, stock *repos.StockRepo, clk clock.Clock) *CatalogService {
	return &CatalogService{Cats: cats, Prods: prods, Stock: stock, Clock: clk}
}

func (s *CatalogService) Categories(ctx context.Context) ([]string, error) {
	return cached(ctx, s.Cache, &s.sf, keyCategories, s.Cats.List)
}

// ListProducts returns one page of the catalog, newest first.
func (s *CatalogService) ListProducts(ctx context.Context, page, limit int) (domain.ProductPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	key := fmt.Sprintf("products:page:%d:%d", page, limit)
	return cached(ctx, s.Cache, &s.sf, key, func(ctx context.Context) (domain.ProductPage, error) {
		total, err := s.Prods.Count(ctx)
		if err != nil {
			return domain.ProductPage{}, err
		}
		products, err := s.Prods.List(ctx, limit, (page-1)*limit)
		if err != nil {
			return domain.ProductPage{}, err
		}
		return domain.ProductPage{
			Products:    products,
			TotalPages:  (total + limit - 1) / limit,
			CurrentPage: page,
		}, nil
	})
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return cached(ctx, s.Cache, &s.sf, productKey(id), func(ctx context.Context) (domain.Product, error) {
		return s.Prods.Get(ctx, id)
	})
}

func (s *CatalogService) ListByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", domain.ErrValidation)
	}
	return cached(ctx, s.Cache, &s.sf, "products:category:"+category, func(ctx context.Context) ([]domain.Product, error) {
		return s.Prods.ListByCategory(ctx, category)
	})
}

// Search is a plain substring match; results are not cached.
func (s *CatalogService) Search(ctx context.Context, q string) ([]domain.Product, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: search query is required", domain.ErrValidation)
	}
	return s.Prods.Search(ctx, q, searchLimit)
}

// ProductInput carries the editable fields of a product.
type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"` // initial stock; ignored by UpdateProduct
	Category    string          `json:"category"`
	Images      []string        `json:"images"`
}

func (in ProductInput) normalize() (ProductInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	switch {
	case in.Name == "":
		return in, fmt.Errorf("%w: name is required", domain.ErrValidation)
	case in.Description == "":
		return in, fmt.Errorf("%w: description is required", domain.ErrValidation)
	case in.Category == "":
		return in, fmt.Errorf("%w: category is required", domain.ErrValidation)
	case in.Price.IsNegative():
		return in, fmt.Errorf("%w: price must not be negative", domain.ErrValidation)
	case in.Stock < 0:
		return in, fmt.Errorf("%w: stock must not be negative", domain.ErrValidation)
	case len(in.Images) < domain.MinProductImages || len(in.Images) > domain.MaxProductImages:
		return in, fmt.Errorf("%w: a product needs %d to %d images", domain.ErrValidation,
			domain.MinProductImages, domain.MaxProductImages)
	}
	images := make([]string, 0, len(in.Images))
	for _, img := range in.Images {
		img = strings.TrimSpace(img)
		if img == "" {
			return in, fmt.Errorf("%w: empty image url", domain.ErrValidation)
		}
		images = append(images, img)
	}
	in.Images = images
	return in, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (domain.Product, error) {
	in, err := in.normalize()
	if err != nil {
		return domain.Product{}, err
	}
	now := s.Clock.Now()
	p := domain.Product{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Category:    in.Category,
		Images:      in.Images,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Prods.Create(ctx, p); err != nil {
		return domain.Product{}, err
	}
	invalidateProducts(ctx, s.Cache)
	return p, nil
}

// UpdateProduct edits name, description, price, category and images.
// Stock is only changed through SetStock.
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, in ProductInput) (domain.Product, error) {
	in, err := in.normalize()
	if err != nil {
		return domain.Product{}, err
	}
	p, err := s.Prods.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	p.Name = in.Name
	p.Description = in.Description
	p.Price = in.Price
	p.Category = in.Category
	p.Images = in.Images
	p.UpdatedAt = s.Clock.Now()
	if err := s.Prods.Update(ctx, p); err != nil {
		return domain.Product{}, err
	}
	invalidateProducts(ctx, s.Cache, id)
	return p, nil
}

// DeleteProduct removes a product. Orders keep their item snapshots.
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.Prods.Delete(ctx, id); err != nil {
		return err
	}
	invalidateProducts(ctx, s.Cache, id)
	return nil
}

func (s *CatalogService) SetStock(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: stock must not be negative", domain.ErrValidation)
	}
	if err := s.Stock.Set(ctx, id, qty, s.Clock.Now()); err != nil {
		return err
	}
	invalidateProducts(ctx, s.Cache, id)
	return nil
}

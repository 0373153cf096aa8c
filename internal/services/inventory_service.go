package services

import (
	"context"
	"database/sql"
	"errors"

	"posuda/internal/domain"
	"posuda/internal/repos"
)

const (
	AvailInStock    = "IN_STOCK"
	AvailLowStock   = "LOW_STOCK"
	AvailOutOfStock = "OUT_OF_STOCK"

	lowStockThreshold = 5
)

type InventoryService struct {
	Stock *repos.StockRepo
}

func NewInventoryService(stock *repos.StockRepo) *InventoryService {
	return &InventoryService{Stock: stock}
}

// CheckAvailability converts stock into IN_STOCK / LOW_STOCK / OUT_OF_STOCK.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID string) (domain.Availability, error) {
	qty, err := s.Stock.Qty(ctx, productID)
	if err != nil {
		// Unknown product reads as sold out.
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Availability{Status: AvailOutOfStock, Qty: 0}, nil
		}
		return domain.Availability{}, err
	}

	status := AvailOutOfStock
	switch {
	case qty >= lowStockThreshold:
		status = AvailInStock
	case qty > 0:
		status = AvailLowStock
	}
	return domain.Availability{Status: status, Qty: qty}, nil
}

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

// MaxLineQuantity caps the units of one product in a single order.
const MaxLineQuantity = 1000

const (
	StatusUnconfirmed Status = "unconfirmed"
	StatusAssembling  Status = "assembling"
	StatusReady       Status = "ready"
	StatusIssued      Status = "issued"
	StatusCancelled   Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusUnconfirmed, StatusAssembling, StatusReady, StatusIssued, StatusCancelled}

// ParseStatus maps a wire string onto a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

type Recipient struct {
	LastName   string `json:"lastName"`
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName"`
}

// Normalize trims all name parts and reports whether every part is present.
func (r Recipient) Normalize() (Recipient, bool) {
	out := Recipient{
		LastName:   strings.TrimSpace(r.LastName),
		FirstName:  strings.TrimSpace(r.FirstName),
		MiddleName: strings.TrimSpace(r.MiddleName),
	}
	return out, out.LastName != "" && out.FirstName != "" && out.MiddleName != ""
}

// OrderItem is a line item. Name, price and image are snapshots taken when the
// order was placed, so history survives product edits and deletion.
type OrderItem struct {
	ProductID string          `json:"product"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
}

func (it OrderItem) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Order struct {
	ID          string          `json:"_id"`
	UserID      string          `json:"user"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Recipient   Recipient       `json:"recipient"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	ReadyAt     *time.Time      `json:"readyAt"`
}

// LineRequest is one requested line of a new order.
type LineRequest struct {
	ProductID string `json:"product"`
	Quantity  int    `json:"quantity"`
}

// ComputeTotal sums price × quantity over items.
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

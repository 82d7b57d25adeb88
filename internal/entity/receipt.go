package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keshly/keshly/constants"
)

// ReceiptHeader is one row of racun.
type ReceiptHeader struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"kupac"`
	Source    string    `json:"link"`
	Date      string    `json:"datum"`
	Time      string    `json:"vreme"`
	Place     *string   `json:"mesto,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LineItem is one row of artikal. Candidates under review carry no IDs yet.
type LineItem struct {
	ID        uuid.UUID          `json:"id,omitempty"`
	ReceiptID uuid.UUID          `json:"racun_id,omitempty"`
	Name      string             `json:"naziv"`
	Category  constants.Category `json:"kategorija"`
	UnitPrice decimal.Decimal    `json:"cena"`
	Quantity  int                `json:"kolicina"`
}

// LineTotal is unit price times quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// EmptyLineItem is the blank row added for manual entry.
func EmptyLineItem() LineItem {
	return LineItem{
		Name:      "",
		Category:  constants.Other,
		UnitPrice: decimal.Zero,
		Quantity:  1,
	}
}

// ReceiptWithItems is a header with its nested line items.
type ReceiptWithItems struct {
	ReceiptHeader
	Items []LineItem `json:"artikal"`
}

// Total sums the line totals.
func (r ReceiptWithItems) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range r.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

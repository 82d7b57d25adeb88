package entity

import (
	"github.com/shopspring/decimal"

	"github.com/keshly/keshly/constants"
)

// GrandTotalCategory marks the pseudo-row carrying the sum over all categories.
const GrandTotalCategory constants.Category = 0

// CategoryTotal is one row of the per-category aggregation.
type CategoryTotal struct {
	Category constants.Category `json:"kategorija"`
	Total    decimal.Decimal    `json:"total"`
}

// MonthTotal is the spending of one YYYY-MM bucket.
type MonthTotal struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
}

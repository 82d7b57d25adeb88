// Package stats shapes the spending aggregations for the home, stats and
// recent-items views.
package stats

import (
	"github.com/shopspring/decimal"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/entity"
)

var hundred = decimal.NewFromInt(100)

// Share is one category's slice of the total.
type Share struct {
	Category constants.Category `json:"kategorija"`
	Name     string             `json:"name"`
	Total    decimal.Decimal    `json:"total"`
	Percent  decimal.Decimal    `json:"percent"`
}

// Summary is the per-category breakdown of a period.
type Summary struct {
	Total  decimal.Decimal `json:"total"`
	Shares []Share         `json:"shares"`
}

// Breakdown turns CategoryTotals rows into a zero-filled breakdown in code
// order. The grand-total pseudo-row wins over the sum of the categories when
// present. Percentages are rounded to one decimal.
func Breakdown(rows []entity.CategoryTotal) Summary {
	byCategory := make(map[constants.Category]decimal.Decimal, len(rows))
	var (
		grand    decimal.Decimal
		hasGrand bool
		sum      = decimal.Zero
	)
	for _, r := range rows {
		if r.Category == entity.GrandTotalCategory {
			grand, hasGrand = r.Total, true
			continue
		}
		c := constants.ClampCategory(float64(r.Category))
		byCategory[c] = byCategory[c].Add(r.Total)
		sum = sum.Add(r.Total)
	}
	total := sum
	if hasGrand {
		total = grand
	}

	out := Summary{Total: total, Shares: make([]Share, 0, len(constants.AllCategories()))}
	for _, c := range constants.AllCategories() {
		v := byCategory[c]
		pct := decimal.Zero
		if total.IsPositive() {
			pct = v.Mul(hundred).Div(total).Round(1)
		}
		out.Shares = append(out.Shares, Share{Category: c, Name: c.Name(), Total: v, Percent: pct})
	}
	return out
}

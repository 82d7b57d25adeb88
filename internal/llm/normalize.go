package llm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/entity"
)

const maxQuantity = 1_000_000

// NormalizeItem applies field defaults to one decoded element. It never fails.
//
//	naziv      blank or missing            -> "Stavka"
//	kategorija missing or non-numeric      -> Other, numeric -> ClampCategory
//	cena       missing, non-numeric, < 0   -> 0 (rounded to 2 decimals)
//	kolicina   missing, non-numeric, < 1   -> 1 (rounded half-up)
func NormalizeItem(raw RawItem) entity.LineItem {
	return entity.LineItem{
		Name:      NormalizeName(text(raw["naziv"])),
		Category:  NormalizeCategory(raw["kategorija"]),
		UnitPrice: NormalizePrice(raw["cena"]),
		Quantity:  NormalizeQuantity(raw["kolicina"]),
	}
}

// NormalizeLineItem re-applies the same invariants to an already typed item,
// e.g. one edited by the user before saving.
func NormalizeLineItem(it entity.LineItem) entity.LineItem {
	out := it
	out.Name = NormalizeName(it.Name)
	switch {
	case it.Category == 0:
		// zero is the unset value
		out.Category = constants.Other
	case !it.Category.Valid():
		out.Category = constants.ClampCategory(float64(it.Category))
	}
	if it.UnitPrice.IsNegative() {
		out.UnitPrice = decimal.Zero
	} else {
		out.UnitPrice = it.UnitPrice.Round(2)
	}
	if it.Quantity < 1 {
		out.Quantity = 1
	}
	return out
}

func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return constants.PlaceholderItemName
	}
	return s
}

func NormalizeCategory(v any) constants.Category {
	if f, ok := number(v); ok {
		return constants.ClampCategory(f)
	}
	return constants.ClampCategory(float64(constants.Other))
}

func NormalizePrice(v any) decimal.Decimal {
	if d, isDec := v.(decimal.Decimal); isDec {
		if d.IsNegative() {
			return decimal.Zero
		}
		return d.Round(2)
	}
	f, ok := number(v)
	if !ok || f <= 0 || math.IsInf(f, 0) {
		return decimal.Zero
	}
	if n, isNum := v.(json.Number); isNum {
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return d.Round(2)
		}
	}
	return decimal.NewFromFloat(f).Round(2)
}

func NormalizeQuantity(v any) int {
	f, ok := number(v)
	if !ok || math.IsInf(f, 0) {
		return 1
	}
	r := math.Floor(f + 0.5)
	switch {
	case r < 1:
		return 1
	case r > maxQuantity:
		return maxQuantity
	}
	return int(r)
}

// number coerces a decoded JSON scalar, or a typed Go value from a caller, to
// a float. Strings are trimmed and may use a decimal comma. Missing, blank,
// non-numeric and non-scalar values report false.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && !math.IsNaN(f)
	case float64:
		return t, !math.IsNaN(t)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case constants.Category:
		return float64(t), true
	case decimal.Decimal:
		f, _ := t.Float64()
		return f, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		return 0, false
	}
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

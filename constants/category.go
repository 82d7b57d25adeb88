package constants

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Category is the fixed spending category code stored in artikal.kategorija.
type Category int

const (
	Groceries     Category = 1 // Namirnice
	Dining        Category = 2 // Restorani i kafici
	Transport     Category = 3
	Entertainment Category = 4 // Zabava
	Other         Category = 5 // Ostalo
)

// MinCategory and MaxCategory bound every persisted category.
const (
	MinCategory = Groceries
	MaxCategory = Other
)

var allCategories = []Category{
	Groceries,
	Dining,
	Transport,
	Entertainment,
	Other,
}

var categoryNames = map[Category]string{
	Groceries:     "Namirnice",
	Dining:        "Restorani i kafici",
	Transport:     "Transport",
	Entertainment: "Zabava",
	Other:         "Ostalo",
}

var categoryHints = map[Category]string{
	Groceries:     "food, groceries",
	Dining:        "restaurants and cafes",
	Transport:     "transport",
	Entertainment: "entertainment",
	Other:         "other",
}

// AllCategories returns the categories in code order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = cat.Name()
	}
	return result
}

// Name returns the display name, or "" for codes outside 1..5.
func (c Category) Name() string {
	return categoryNames[c]
}

func (c Category) String() string {
	if n := c.Name(); n != "" {
		return n
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

func (c Category) Valid() bool {
	return c >= MinCategory && c <= MaxCategory
}

// ClampCategory maps any numeric input onto a valid category.
// The value is rounded half-up first; anything at or below zero becomes
// Groceries, anything at or above five becomes Other. NaN maps to Groceries.
func ClampCategory(v float64) Category {
	if math.IsNaN(v) {
		return MinCategory
	}
	r := math.Floor(v + 0.5)
	switch {
	case r <= 0:
		return MinCategory
	case r >= float64(MaxCategory):
		return MaxCategory
	default:
		return Category(int(r))
	}
}

// ParseCategory accepts a numeric code or a display name (case-insensitive).
// Numeric input is clamped; unknown names report false and return Other.
func ParseCategory(input string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return Other, false
	}
	if f, err := strconv.ParseFloat(normalized, 64); err == nil {
		return ClampCategory(f), true
	}

	synonyms := map[string]Category{
		"hrana":     Groceries,
		"food":      Groceries,
		"groceries": Groceries,
		"restoran":  Dining,
		"kafic":     Dining,
		"kafići":    Dining,
		"dining":    Dining,
		"prevoz":    Transport,
		"gorivo":    Transport,
		"fun":       Entertainment,
		"other":     Other,
	}
	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}
	for _, cat := range allCategories {
		if normalized == strings.ToLower(cat.Name()) {
			return cat, true
		}
	}
	return Other, false
}

// CategoryPromptList renders "1=Namirnice, 2=..." for short prompts and CLI help.
func CategoryPromptList() string {
	parts := make([]string, 0, len(allCategories))
	for _, c := range allCategories {
		parts = append(parts, fmt.Sprintf("%d=%s", int(c), c.Name()))
	}
	return strings.Join(parts, ", ")
}

// DescribeCategoriesForClassifier is embedded verbatim in the classifier prompt.
func DescribeCategoriesForClassifier() string {
	var b strings.Builder
	b.WriteString("kategorija must be an integer from 1 to 5 with this exact meaning:")
	for _, c := range allCategories {
		name := c.Name()
		if hint := categoryHints[c]; !strings.EqualFold(hint, name) {
			name += " (" + hint + ")"
		}
		fmt.Fprintf(&b, " %d = %s", int(c), name)
	}
	b.WriteString(". Return only the number (1-5) that best matches each receipt item.")
	return b.String()
}

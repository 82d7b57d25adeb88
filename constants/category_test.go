package constants

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampCategory(t *testing.T) {
	tests := []struct {
		in   float64
		want Category
	}{
		{0, Groceries},
		{-3, Groceries},
		{0.4, Groceries},
		{0.5, Groceries},
		{1, Groceries},
		{1.49, Groceries},
		{1.5, Dining},
		{2.6, Transport},
		{4, Entertainment},
		{4.5, Other},
		{5, Other},
		{7, Other},
		{1e9, Other},
		{math.NaN(), Groceries},
		{math.Inf(1), Other},
		{math.Inf(-1), Groceries},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampCategory(tt.in), "ClampCategory(%v)", tt.in)
	}
}

func TestClampCategoryIsTotalAndIdempotent(t *testing.T) {
	for v := -10.0; v <= 10.0; v += 0.25 {
		c := ClampCategory(v)
		assert.True(t, c.Valid(), "out of range for %v", v)
		assert.Equal(t, c, ClampCategory(float64(c)), "not idempotent for %v", v)
	}
}

func TestDescribeCategoriesForClassifier(t *testing.T) {
	want := "kategorija must be an integer from 1 to 5 with this exact meaning: " +
		"1 = Namirnice (food, groceries) " +
		"2 = Restorani i kafici (restaurants and cafes) " +
		"3 = Transport " +
		"4 = Zabava (entertainment) " +
		"5 = Ostalo (other). " +
		"Return only the number (1-5) that best matches each receipt item."
	assert.Equal(t, want, DescribeCategoriesForClassifier())
}

func TestCategoryNames(t *testing.T) {
	assert.Equal(t, "1=Namirnice, 2=Restorani i kafici, 3=Transport, 4=Zabava, 5=Ostalo", CategoryPromptList())
	assert.Equal(t, []string{"Namirnice", "Restorani i kafici", "Transport", "Zabava", "Ostalo"}, AsStringSlice())
	assert.Equal(t, "Category(0)", Category(0).String())
	assert.Len(t, AllCategories(), 5)
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("zabava")
	assert.True(t, ok)
	assert.Equal(t, Entertainment, c)

	c, ok = ParseCategory("9")
	assert.True(t, ok)
	assert.Equal(t, Other, c)

	c, ok = ParseCategory("prevoz")
	assert.True(t, ok)
	assert.Equal(t, Transport, c)

	c, ok = ParseCategory("unknown")
	assert.False(t, ok)
	assert.Equal(t, Other, c)
}

func TestEntryModes(t *testing.T) {
	m, ok := ParseEntryMode(" QR ")
	assert.True(t, ok)
	assert.Equal(t, EntryQR, m)
	assert.True(t, m.FromSource())

	m, ok = ParseEntryMode("manual")
	assert.True(t, ok)
	assert.False(t, m.FromSource())

	_, ok = ParseEntryMode("camera")
	assert.False(t, ok)

	assert.True(t, StateSaving.Busy())
	assert.False(t, StateAwaitingReview.Busy())
}

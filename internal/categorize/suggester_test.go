package categorize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/entity"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type staticSource struct {
	items []entity.LineItem
	err   error
}

func (s staticSource) ListItemNames(_ context.Context, _ int) ([]entity.LineItem, error) {
	return s.items, s.err
}

func li(name string, c constants.Category) entity.LineItem {
	return entity.LineItem{Name: name, Category: c, Quantity: 1}
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"hleb", "beli", "500g"}, Terms("HLEB beli, 500g"))
	assert.Equal(t, []string{"čokolada"}, Terms("  Čokolada!! "))
	assert.Empty(t, Terms(" -- "))
}

func TestSuggestLearnsFromHistory(t *testing.T) {
	s := NewSuggester(quietLogger())
	require.NoError(t, s.Load(context.Background(), staticSource{items: []entity.LineItem{
		li("Hleb beli", constants.Groceries),
		li("Mleko 1l", constants.Groceries),
		li("Hleb integralni", constants.Groceries),
		li("Kafa espresso", constants.Dining),
		li("Kafa sa mlekom", constants.Dining),
		li("Karta autobus", constants.Transport),
		li("Gorivo dizel", constants.Transport),
	}}))

	got, ok := s.Suggest("hleb")
	require.True(t, ok)
	assert.Equal(t, constants.Groceries, got)

	got, ok = s.Suggest("Gorivo")
	require.True(t, ok)
	assert.Equal(t, constants.Transport, got)

	_, ok = s.Suggest("bioskop")
	assert.False(t, ok, "unknown words give no suggestion")
}

func TestSuggestNeedsTwoClasses(t *testing.T) {
	s := NewSuggester(quietLogger())
	_, ok := s.Suggest("hleb")
	assert.False(t, ok)

	s.Learn("hleb", constants.Groceries)
	_, ok = s.Suggest("hleb")
	assert.False(t, ok)

	s.Learn("bioskop", constants.Entertainment)
	got, ok := s.Suggest("bioskop karta")
	require.True(t, ok)
	assert.Equal(t, constants.Entertainment, got)

	// learning after a suggestion rebuilds the model
	s.Learn("taksi", constants.Transport)
	got, ok = s.Suggest("taksi")
	require.True(t, ok)
	assert.Equal(t, constants.Transport, got)
}

func TestLearnIgnoresPlaceholdersAndInvalidCategories(t *testing.T) {
	s := NewSuggester(quietLogger(), WithMaxSamples(2))
	s.Learn(constants.PlaceholderItemName, constants.Groceries)
	s.Learn("hleb", 0)
	s.Learn("hleb", 9)
	assert.Empty(t, s.samples)

	s.Learn("a", constants.Groceries)
	s.Learn("b", constants.Dining)
	s.Learn("c", constants.Other)
	assert.Len(t, s.samples, 2)
	assert.Equal(t, []string{"b"}, s.samples[0].terms)
}

func TestLoadError(t *testing.T) {
	s := NewSuggester(quietLogger())
	err := s.Load(context.Background(), staticSource{err: errors.New("db down")})
	assert.ErrorContains(t, err, "db down")
}

func TestLearnReceipt(t *testing.T) {
	s := NewSuggester(quietLogger())
	s.LearnReceipt(context.Background(), entity.ReceiptWithItems{Items: []entity.LineItem{
		li("Pica margarita", constants.Dining),
		li("Pica kapricoza", constants.Dining),
		li("Bioskop karta", constants.Entertainment),
		li("Koncert ulaznica", constants.Entertainment),
	}})

	got, ok := s.Suggest("pica")
	require.True(t, ok)
	assert.Equal(t, constants.Dining, got)

	got, ok = s.Suggest("Koncert")
	require.True(t, ok)
	assert.Equal(t, constants.Entertainment, got)
}

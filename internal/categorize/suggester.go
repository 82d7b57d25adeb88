// Package categorize suggests item categories from previously saved items.
package categorize

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/jbrukh/bayesian"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/entity"
)

const defaultMaxSamples = 5000

// ItemSource lists persisted items to train on.
type ItemSource interface {
	ListItemNames(ctx context.Context, limit int) ([]entity.LineItem, error)
}

type sample struct {
	terms    []string
	category constants.Category
}

// Suggester is a TF-IDF naive Bayes model over item names. The model is
// rebuilt lazily after new samples arrive.
type Suggester struct {
	mu         sync.Mutex
	samples    []sample
	maxSamples int
	vocab      map[string]struct{}
	classes    []bayesian.Class
	cl         *bayesian.Classifier
	dirty      bool
	logger     *slog.Logger
}

type Option func(*Suggester)

func WithMaxSamples(n int) Option {
	return func(s *Suggester) {
		if n > 0 {
			s.maxSamples = n
		}
	}
}

func NewSuggester(logger *slog.Logger, opts ...Option) *Suggester {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Suggester{
		maxSamples: defaultMaxSamples,
		vocab:      make(map[string]struct{}),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load trains on items already in storage.
func (s *Suggester) Load(ctx context.Context, src ItemSource) error {
	items, err := src.ListItemNames(ctx, s.maxSamples)
	if err != nil {
		return fmt.Errorf("load training items: %w", err)
	}
	s.Train(items)
	s.logger.Info("categorize.loaded", "samples", len(items))
	return nil
}

func (s *Suggester) Train(items []entity.LineItem) {
	for _, it := range items {
		s.Learn(it.Name, it.Category)
	}
}

// Learn adds one labelled name. Placeholder names and invalid categories are ignored.
func (s *Suggester) Learn(name string, category constants.Category) {
	if !category.Valid() || strings.EqualFold(strings.TrimSpace(name), constants.PlaceholderItemName) {
		return
	}
	terms := Terms(name)
	if len(terms) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) >= s.maxSamples {
		s.samples = s.samples[1:]
	}
	s.samples = append(s.samples, sample{terms: terms, category: category})
	s.dirty = true
}

// Suggest returns the most likely category for name. ok is false when the
// model knows none of the words or cannot separate the top classes.
func (s *Suggester) Suggest(name string) (constants.Category, bool) {
	terms := Terms(name)
	if len(terms) == 0 {
		return constants.Other, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.rebuildLocked()
	}
	if s.cl == nil || !s.knowsAnyLocked(terms) {
		return constants.Other, false
	}

	_, likely, strict := s.cl.LogScores(terms)
	if !strict {
		return constants.Other, false
	}
	n, err := strconv.Atoi(string(s.classes[likely]))
	if err != nil {
		return constants.Other, false
	}
	return constants.ClampCategory(float64(n)), true
}

func (s *Suggester) knowsAnyLocked(terms []string) bool {
	for _, t := range terms {
		if _, ok := s.vocab[t]; ok {
			return true
		}
	}
	return false
}

func (s *Suggester) rebuildLocked() {
	s.dirty = false
	seen := make(map[constants.Category]bool)
	for _, smp := range s.samples {
		seen[smp.category] = true
	}
	// the classifier needs at least two classes
	if len(seen) < 2 {
		s.cl = nil
		return
	}

	s.classes = s.classes[:0]
	for _, c := range constants.AllCategories() {
		if seen[c] {
			s.classes = append(s.classes, bayesian.Class(strconv.Itoa(int(c))))
		}
	}
	s.vocab = make(map[string]struct{})
	s.cl = bayesian.NewClassifierTfIdf(s.classes...)
	for _, smp := range s.samples {
		s.cl.Learn(smp.terms, bayesian.Class(strconv.Itoa(int(smp.category))))
		for _, t := range smp.terms {
			s.vocab[t] = struct{}{}
		}
	}
	s.cl.ConvertTermsFreqToTfIdf()
	s.logger.Debug("categorize.rebuilt", "samples", len(s.samples), "classes", len(s.classes))
}

// Terms lower-cases name and splits it into letter/digit words.
func Terms(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// LearnReceipt feeds every item of a saved receipt back into the model.
func (s *Suggester) LearnReceipt(_ context.Context, rec entity.ReceiptWithItems) {
	for _, it := range rec.Items {
		s.Learn(it.Name, it.Category)
	}
}

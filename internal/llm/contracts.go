package llm

import (
	"context"

	"github.com/keshly/keshly/internal/entity"
)

// CompletionRequest is a single prompt sent to a text-completion service.
type CompletionRequest struct {
	Prompt string
	JSON   bool // ask the provider for a JSON response body
}

// Completer is the classifier service boundary: one prompt in, text out.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// Classification is the normalized outcome of a successful classifier call.
type Classification struct {
	Items []entity.LineItem
	Date  string // first non-empty datum suggested by the classifier
	Time  string // first non-empty vreme suggested by the classifier
	Raw   string
}

// ItemClassifier turns receipt text into candidate line items.
type ItemClassifier interface {
	Classify(ctx context.Context, receiptText string) (Classification, error)
}

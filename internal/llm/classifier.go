package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
)

// FailureReason says which step of classification failed.
type FailureReason string

const (
	ReasonService     FailureReason = "service"
	ReasonEmpty       FailureReason = "empty"
	ReasonInvalidJSON FailureReason = "invalid_json"
)

// ClassificationError carries the raw classifier text for diagnostics.
// Error() is the user-facing status line.
type ClassificationError struct {
	Reason FailureReason
	Raw    string
	Err    error
}

func (e *ClassificationError) Error() string {
	switch e.Reason {
	case ReasonEmpty:
		return "Nema AI odgovora"
	case ReasonInvalidJSON:
		return "Greška: neispravan JSON od AI " + e.Raw
	default:
		return fmt.Sprintf("Greška pri obradi: %v", e.Err)
	}
}

func (e *ClassificationError) Unwrap() error { return e.Err }

func (e *ClassificationError) Is(target error) bool { return target == common.ErrClassifier }

// Classifier builds the prompt, calls the completion service and turns its
// answer into normalized candidate line items.
type Classifier struct {
	completer Completer
	logger    *slog.Logger
	maxInput  int
}

type ClassifierOption func(*Classifier)

// WithMaxInputChars truncates receipt text sent to the service.
func WithMaxInputChars(n int) ClassifierOption {
	return func(c *Classifier) {
		if n > 0 {
			c.maxInput = n
		}
	}
}

func NewClassifier(completer Completer, logger *slog.Logger, opts ...ClassifierOption) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{completer: completer, logger: logger, maxInput: 12000}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify never returns items on failure: either every element of the
// response is normalized, or the error is a *ClassificationError.
func (c *Classifier) Classify(ctx context.Context, receiptText string) (Classification, error) {
	rid := uuid.New().String()
	start := time.Now()

	input := strings.TrimSpace(receiptText)
	if len(input) > c.maxInput {
		input = strings.ToValidUTF8(input[:c.maxInput], "")
	}
	prompt := BuildPrompt(input, constants.DescribeCategoriesForClassifier())

	c.logger.Info("llm.classify.start", "req_id", rid, "text_len", len(input), "prompt_len", len(prompt))

	raw, err := c.completer.Complete(ctx, CompletionRequest{Prompt: prompt, JSON: true})
	if err != nil {
		c.logger.Error("llm.classify.service_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Classification{}, &ClassificationError{Reason: ReasonService, Err: err}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		c.logger.Warn("llm.classify.empty", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return Classification{}, &ClassificationError{Reason: ReasonEmpty, Err: ErrEmptyResponse}
	}

	decoded := Decode(raw)
	if !decoded.OK {
		c.logger.Error("llm.classify.decode_failed", "req_id", rid, "error", decoded.Err, "content", raw,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Classification{}, &ClassificationError{Reason: ReasonInvalidJSON, Raw: raw, Err: decoded.Err}
	}

	out := Classification{Raw: raw, Items: make([]entity.LineItem, 0, len(decoded.Items))}
	for _, it := range decoded.Items {
		out.Items = append(out.Items, NormalizeItem(it))
		if out.Date == "" {
			out.Date = strings.TrimSpace(text(it["datum"]))
		}
		if out.Time == "" {
			out.Time = strings.TrimSpace(text(it["vreme"]))
		}
	}

	c.logger.Info("llm.classify.ok",
		"req_id", rid,
		"items", len(out.Items),
		"datum", out.Date,
		"vreme", out.Time,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Package ingest drives one receipt from its source to persisted rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
	"github.com/keshly/keshly/internal/extract"
	"github.com/keshly/keshly/internal/llm"
	"github.com/keshly/keshly/internal/temporal"
)

// Snapshot is a copy of the flow state safe to hand to callers.
type Snapshot struct {
	State     constants.IngestState `json:"state"`
	Mode      constants.EntryMode   `json:"mode"`
	Source    string                `json:"source,omitempty"`
	Items     []entity.LineItem     `json:"items"`
	Date      string                `json:"datum"`
	Time      string                `json:"vreme"`
	Place     string                `json:"mesto"`
	Message   string                `json:"message,omitempty"`
	Raw       string                `json:"raw,omitempty"`
	ReceiptID *uuid.UUID            `json:"receipt_id,omitempty"`
	CanSave   bool                  `json:"can_save"`
}

// ItemPatch updates the non-nil fields of a candidate item. Numeric fields
// take any decoded value and are coerced like classifier output, so a
// fractional or non-numeric category is clamped rather than rejected.
type ItemPatch struct {
	Name      *string `json:"naziv,omitempty"`
	Category  any     `json:"kategorija,omitempty"`
	UnitPrice any     `json:"cena,omitempty"`
	Quantity  any     `json:"kolicina,omitempty"`
}

type flow struct {
	state     constants.IngestState
	mode      constants.EntryMode
	source    string
	items     []entity.LineItem
	date      string
	clock     string
	place     string
	message   string
	raw       string
	receiptID uuid.UUID
}

// Deps are the collaborators of a Reconciler.
type Deps struct {
	Extractor  extract.TextExtractor
	Classifier llm.ItemClassifier
	Receipts   ReceiptWriter
	Session    SessionSource
}

// Reconciler is the per-user ingestion state machine. Long I/O runs outside
// the lock while the flow is parked in Extracting or Saving; every mutating
// call made meanwhile fails with common.ErrBusy.
type Reconciler struct {
	deps       Deps
	clock      *temporal.Normalizer
	hints      CategoryHints
	hooks      []SaveHook
	compensate bool
	logger     *slog.Logger

	mu sync.Mutex
	f  flow
}

type Option func(*Reconciler)

func WithNormalizer(n *temporal.Normalizer) Option {
	return func(r *Reconciler) {
		if n != nil {
			r.clock = n
		}
	}
}

// WithCompensation deletes the header when the item insert fails.
func WithCompensation(on bool) Option {
	return func(r *Reconciler) { r.compensate = on }
}

func WithHints(h CategoryHints) Option {
	return func(r *Reconciler) { r.hints = h }
}

func WithSaveHook(h SaveHook) Option {
	return func(r *Reconciler) {
		if h != nil {
			r.hooks = append(r.hooks, h)
		}
	}
}

func NewReconciler(deps Deps, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		deps:       deps,
		clock:      temporal.New(),
		compensate: true,
		logger:     logger,
		f:          flow{state: constants.StateIdle, mode: constants.EntryQR},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// CanSave reports whether Save would reach the backend.
func (r *Reconciler) CanSave() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canSaveLocked()
}

func (r *Reconciler) canSaveLocked() bool {
	return r.f.state == constants.StateAwaitingReview && len(r.f.items) > 0
}

func (r *Reconciler) snapshotLocked() Snapshot {
	s := Snapshot{
		State:   r.f.state,
		Mode:    r.f.mode,
		Source:  r.f.source,
		Items:   append([]entity.LineItem{}, r.f.items...),
		Date:    r.f.date,
		Time:    r.f.clock,
		Place:   r.f.place,
		Message: r.f.message,
		Raw:     r.f.raw,
		CanSave: r.canSaveLocked(),
	}
	if r.f.receiptID != uuid.Nil {
		id := r.f.receiptID
		s.ReceiptID = &id
	}
	return s
}

// SelectMode switches the entry mode. Source modes clear the candidates and
// return to Idle; manual mode opens the review form with one empty item.
func (r *Reconciler) SelectMode(mode constants.EntryMode) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f.state.Busy() {
		return r.snapshotLocked(), common.ErrBusy
	}
	if _, ok := constants.ParseEntryMode(string(mode)); !ok {
		return r.snapshotLocked(), fmt.Errorf("%w: unknown entry mode %q", common.ErrInvalidInput, mode)
	}

	r.f.mode = mode
	r.f.source = ""
	r.f.raw = ""
	r.f.receiptID = uuid.Nil
	if mode.FromSource() {
		r.f.state = constants.StateIdle
		r.f.items = nil
		r.f.message = ""
		return r.snapshotLocked(), nil
	}

	if len(r.f.items) == 0 {
		r.f.items = []entity.LineItem{entity.EmptyLineItem()}
	}
	now := r.clock.Now()
	if r.f.date == "" {
		r.f.date = temporal.ToBackendDate(now)
	}
	if r.f.clock == "" {
		r.f.clock = temporal.ToBackendTime(now)
	}
	r.f.state = constants.StateAwaitingReview
	r.f.message = MsgManual
	return r.snapshotLocked(), nil
}

// SubmitSource fetches the receipt page and classifies its text. Failures
// leave the flow Idle with zero items and a status message; the returned
// error carries the typed cause.
func (r *Reconciler) SubmitSource(ctx context.Context, url string) (Snapshot, error) {
	url = strings.TrimSpace(url)

	r.mu.Lock()
	if r.f.state.Busy() {
		defer r.mu.Unlock()
		return r.snapshotLocked(), common.ErrBusy
	}
	if !r.f.mode.FromSource() {
		defer r.mu.Unlock()
		return r.snapshotLocked(), fmt.Errorf("%w: source submitted in %s mode", common.ErrInvalidState, r.f.mode)
	}
	if url == "" {
		defer r.mu.Unlock()
		r.f.message = MsgEnterLink
		return r.snapshotLocked(), fmt.Errorf("%w: empty source", common.ErrInvalidInput)
	}
	r.f.state = constants.StateExtracting
	r.f.source = url
	r.f.items = nil
	r.f.raw = ""
	r.f.receiptID = uuid.Nil
	r.f.message = MsgProcessing
	r.mu.Unlock()

	rid := uuid.New().String()
	start := time.Now()
	r.logger.Info("ingest.extract.start", "req_id", rid, "url", url)

	res, err := r.extractAndClassify(ctx, rid, url)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.f.state = constants.StateIdle
		r.f.items = nil
		r.f.message = failureMessage(err)
		var ce *llm.ClassificationError
		if errors.As(err, &ce) {
			r.f.raw = ce.Raw
		}
		r.logger.Warn("ingest.extract.failed", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return r.snapshotLocked(), err
	}

	r.f.items = res.Items
	r.f.date, r.f.clock = r.clock.ResolveFinalDateTime(res.Date, res.Time)
	r.f.place = ""
	r.f.raw = res.Raw
	r.f.state = constants.StateAwaitingReview
	r.f.message = MsgReview
	r.logger.Info("ingest.extract.ok", "req_id", rid, "items", len(res.Items),
		"datum", r.f.date, "vreme", r.f.clock, "elapsed_ms", time.Since(start).Milliseconds())
	return r.snapshotLocked(), nil
}

func (r *Reconciler) extractAndClassify(ctx context.Context, rid, url string) (llm.Classification, error) {
	page, err := r.deps.Extractor.Extract(ctx, url)
	if err != nil {
		return llm.Classification{}, common.NewAppError(common.CodeExtraction, msgProcessingError(err), fmt.Errorf("%w: %w", common.ErrExtraction, err))
	}
	if !page.Found {
		return llm.Classification{}, common.NewAppError(common.CodeExtraction, extract.NotFoundText, common.ErrExtraction)
	}
	r.logger.Debug("ingest.extract.text", "req_id", rid, "text_len", len(page.Text), "artifact", page.ArtifactURI)

	if _, err := r.deps.Session.CurrentUser(ctx); err != nil {
		return llm.Classification{}, common.NewAppError(common.CodeAuth, MsgSignInNeeded, err)
	}

	res, err := r.deps.Classifier.Classify(ctx, page.Text)
	if err != nil {
		return llm.Classification{}, err
	}
	return res, nil
}

// failureMessage renders the status line for a failed step.
func failureMessage(err error) string {
	var ae *common.AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	var ce *llm.ClassificationError
	if errors.As(err, &ce) {
		return ce.Error()
	}
	return msgProcessingError(err)
}

func (r *Reconciler) edit(fn func(items []entity.LineItem) ([]entity.LineItem, error)) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f.state.Busy() {
		return r.snapshotLocked(), common.ErrBusy
	}
	if r.f.state != constants.StateAwaitingReview && r.f.state != constants.StateSaved {
		return r.snapshotLocked(), fmt.Errorf("%w: nothing to edit in %s", common.ErrInvalidState, r.f.state)
	}
	next := make([]entity.LineItem, len(r.f.items))
	copy(next, r.f.items)
	next, err := fn(next)
	if err != nil {
		return r.snapshotLocked(), err
	}
	r.f.items = next
	r.touchLocked()
	return r.snapshotLocked(), nil
}

// touchLocked turns a saved flow back into an editable draft.
func (r *Reconciler) touchLocked() {
	if r.f.state == constants.StateSaved {
		r.f.state = constants.StateAwaitingReview
		r.f.receiptID = uuid.Nil
	}
}

func (r *Reconciler) AddItem() (Snapshot, error) {
	return r.edit(func(items []entity.LineItem) ([]entity.LineItem, error) {
		return append(items, entity.EmptyLineItem()), nil
	})
}

func (r *Reconciler) UpdateItem(i int, p ItemPatch) (Snapshot, error) {
	return r.edit(func(items []entity.LineItem) ([]entity.LineItem, error) {
		if i < 0 || i >= len(items) {
			return nil, fmt.Errorf("%w: item index %d out of range", common.ErrInvalidInput, i)
		}
		it := items[i]
		if p.Name != nil {
			it.Name = *p.Name
		}
		if p.Category != nil {
			it.Category = llm.NormalizeCategory(p.Category)
		}
		if p.UnitPrice != nil {
			it.UnitPrice = llm.NormalizePrice(p.UnitPrice)
		}
		if p.Quantity != nil {
			it.Quantity = llm.NormalizeQuantity(p.Quantity)
		}
		items[i] = it
		return items, nil
	})
}

// RemoveItem drops item i. Manual entry always keeps at least one row.
func (r *Reconciler) RemoveItem(i int) (Snapshot, error) {
	return r.edit(func(items []entity.LineItem) ([]entity.LineItem, error) {
		if i < 0 || i >= len(items) {
			return nil, fmt.Errorf("%w: item index %d out of range", common.ErrInvalidInput, i)
		}
		// edit runs under r.mu
		if r.f.mode == constants.EntryManual && len(items) == 1 {
			return nil, fmt.Errorf("%w: manual entry keeps at least one item", common.ErrInvalidInput)
		}
		return append(items[:i], items[i+1:]...), nil
	})
}

func (r *Reconciler) setField(dst *string, v string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f.state.Busy() {
		return r.snapshotLocked(), common.ErrBusy
	}
	if r.f.state != constants.StateAwaitingReview && r.f.state != constants.StateSaved {
		return r.snapshotLocked(), fmt.Errorf("%w: nothing to edit in %s", common.ErrInvalidState, r.f.state)
	}
	*dst = strings.TrimSpace(v)
	r.touchLocked()
	return r.snapshotLocked(), nil
}

func (r *Reconciler) SetDate(v string) (Snapshot, error)  { return r.setField(&r.f.date, v) }
func (r *Reconciler) SetTime(v string) (Snapshot, error)  { return r.setField(&r.f.clock, v) }
func (r *Reconciler) SetPlace(v string) (Snapshot, error) { return r.setField(&r.f.place, v) }

// SuggestCategory proposes a category for an item name from saved history.
func (r *Reconciler) SuggestCategory(name string) (constants.Category, bool) {
	if r.hints == nil {
		return constants.Other, false
	}
	return r.hints.Suggest(name)
}

// Reset discards the candidates and returns to Idle, keeping the entry mode.
func (r *Reconciler) Reset() (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f.state.Busy() {
		return r.snapshotLocked(), common.ErrBusy
	}
	r.f = flow{state: constants.StateIdle, mode: r.f.mode}
	return r.snapshotLocked(), nil
}

type saveJob struct {
	link  string
	date  string
	clock string
	place string
	items []entity.LineItem
}

// Save writes the header and then all items. The header insert is retried
// once without mesto when a place was given; items are only written once a
// header id exists.
func (r *Reconciler) Save(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	if r.f.state.Busy() {
		defer r.mu.Unlock()
		return r.snapshotLocked(), common.ErrBusy
	}
	if len(r.f.items) == 0 {
		defer r.mu.Unlock()
		r.f.message = MsgNoItems
		return r.snapshotLocked(), common.ErrNoItems
	}
	if r.f.state != constants.StateAwaitingReview {
		defer r.mu.Unlock()
		return r.snapshotLocked(), fmt.Errorf("%w: cannot save in %s", common.ErrInvalidState, r.f.state)
	}
	job := saveJob{
		link:  r.f.source,
		date:  r.f.date,
		clock: r.f.clock,
		place: strings.TrimSpace(r.f.place),
		items: make([]entity.LineItem, 0, len(r.f.items)),
	}
	if job.link == "" {
		job.link = constants.ManualSource
	}
	for _, it := range r.f.items {
		job.items = append(job.items, llm.NormalizeLineItem(it))
	}
	r.f.state = constants.StateSaving
	r.f.message = MsgSaving
	r.mu.Unlock()

	rec, err := r.persist(ctx, job)

	r.mu.Lock()
	if err != nil {
		r.f.state = constants.StateAwaitingReview
		r.f.message = failureMessage(err)
		snap := r.snapshotLocked()
		r.mu.Unlock()
		return snap, err
	}
	r.f.state = constants.StateSaved
	r.f.items = rec.Items
	r.f.date, r.f.clock = rec.Date, rec.Time
	r.f.receiptID = rec.ID
	r.f.message = msgSaved(len(rec.Items))
	snap := r.snapshotLocked()
	r.mu.Unlock()

	for _, h := range r.hooks {
		h(ctx, rec)
	}
	return snap, nil
}

func (r *Reconciler) persist(ctx context.Context, job saveJob) (entity.ReceiptWithItems, error) {
	rid := uuid.New().String()
	start := time.Now()

	user, err := r.deps.Session.CurrentUser(ctx)
	if err != nil {
		r.logger.Warn("ingest.save.unauthenticated", "req_id", rid, "error", err)
		return entity.ReceiptWithItems{}, common.NewAppError(common.CodeAuth, MsgSignInNeeded, err)
	}

	date, clock := r.clock.ResolveFinalDateTime(job.date, job.clock)
	header := entity.ReceiptHeader{
		UserID:    user,
		Source:    job.link,
		Date:      date,
		Time:      clock,
		CreatedAt: time.Now().UTC(),
	}
	if job.place != "" {
		place := job.place
		header.Place = &place
	}

	id, err := r.deps.Receipts.InsertHeader(ctx, header)
	if err != nil && header.Place != nil {
		r.logger.Warn("ingest.save.header_retry_without_place", "req_id", rid, "error", err)
		header.Place = nil
		id, err = r.deps.Receipts.InsertHeader(ctx, header)
	}
	if err != nil {
		r.logger.Error("ingest.save.header_failed", "req_id", rid, "user_id", user, "error", err)
		return entity.ReceiptWithItems{}, persistenceError(err)
	}
	header.ID = id

	items := make([]entity.LineItem, len(job.items))
	for i, it := range job.items {
		it.ID = uuid.New()
		it.ReceiptID = id
		items[i] = it
	}
	if err := r.deps.Receipts.InsertLineItems(ctx, id, items); err != nil {
		r.logger.Error("ingest.save.items_failed", "req_id", rid, "receipt_id", id, "count", len(items), "error", err)
		if r.compensate {
			if derr := r.deps.Receipts.DeleteHeader(ctx, id); derr != nil {
				r.logger.Error("ingest.save.compensation_failed", "req_id", rid, "receipt_id", id, "error", derr)
			} else {
				r.logger.Info("ingest.save.header_removed", "req_id", rid, "receipt_id", id)
			}
		}
		return entity.ReceiptWithItems{}, persistenceError(err)
	}

	r.logger.Info("ingest.save.ok", "req_id", rid, "receipt_id", id, "user_id", user,
		"items", len(items), "elapsed_ms", time.Since(start).Milliseconds())
	return entity.ReceiptWithItems{ReceiptHeader: header, Items: items}, nil
}

func persistenceError(err error) error {
	return common.NewAppError(common.CodePersistence, msgSaveError(err), fmt.Errorf("%w: %w", common.ErrDatabase, err))
}

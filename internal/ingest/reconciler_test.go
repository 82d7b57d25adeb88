package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
	"github.com/keshly/keshly/internal/extract"
	"github.com/keshly/keshly/internal/llm"
	"github.com/keshly/keshly/internal/temporal"
)

var fixedNow = time.Date(2024, 3, 9, 8, 5, 7, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeExtractor struct {
	res   extract.Result
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (extract.Result, error) {
	f.calls++
	r := f.res
	r.SourceURL = url
	return r, f.err
}

type fakeWriter struct {
	mu         sync.Mutex
	headers    []entity.ReceiptHeader
	itemBatch  [][]entity.LineItem
	deleted    []uuid.UUID
	headerErrs []error // consumed per call; nil entries succeed
	itemsErr   error
	gate       chan struct{}
}

func (f *fakeWriter) InsertHeader(_ context.Context, h entity.ReceiptHeader) (uuid.UUID, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = append(f.headers, h)
	if len(f.headerErrs) > 0 {
		err := f.headerErrs[0]
		f.headerErrs = f.headerErrs[1:]
		if err != nil {
			return uuid.Nil, err
		}
	}
	return uuid.New(), nil
}

func (f *fakeWriter) InsertLineItems(_ context.Context, id uuid.UUID, items []entity.LineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemBatch = append(f.itemBatch, items)
	return f.itemsErr
}

func (f *fakeWriter) DeleteHeader(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type harness struct {
	r       *Reconciler
	ext     *fakeExtractor
	writer  *fakeWriter
	aiCalls *int
}

func newHarness(t *testing.T, user uuid.UUID, aiResponse string, opts ...Option) harness {
	t.Helper()
	calls := 0
	completer := llm.CompleterFunc(func(_ context.Context, _ llm.CompletionRequest) (string, error) {
		calls++
		return aiResponse, nil
	})
	ext := &fakeExtractor{res: extract.Result{Text: "HLEB 120,00", Found: true}}
	writer := &fakeWriter{}
	clock := temporal.New(temporal.WithClock(func() time.Time { return fixedNow }), temporal.WithLocation(time.UTC))
	opts = append([]Option{WithNormalizer(clock)}, opts...)
	r := NewReconciler(Deps{
		Extractor:  ext,
		Classifier: llm.NewClassifier(completer, quietLogger()),
		Receipts:   writer,
		Session:    StaticUser(user),
	}, quietLogger(), opts...)
	return harness{r: r, ext: ext, writer: writer, aiCalls: &calls}
}

func ptr[T any](v T) *T { return &v }

func TestManualEntrySave(t *testing.T) {
	user := uuid.New()
	var hooked []entity.ReceiptWithItems
	h := newHarness(t, user, "", WithSaveHook(func(_ context.Context, rec entity.ReceiptWithItems) {
		hooked = append(hooked, rec)
	}))

	snap, err := h.r.SelectMode(constants.EntryManual)
	require.NoError(t, err)
	assert.Equal(t, constants.StateAwaitingReview, snap.State)
	assert.Equal(t, MsgManual, snap.Message)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "2024-03-09", snap.Date)
	assert.Equal(t, "08:05:07", snap.Time)

	_, err = h.r.UpdateItem(0, ItemPatch{
		Name:      ptr("Hleb"),
		Category:  constants.Groceries,
		UnitPrice: decimal.NewFromInt(120),
		Quantity:  2,
	})
	require.NoError(t, err)

	snap, err = h.r.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, constants.StateSaved, snap.State)
	assert.Equal(t, "Sačuvano. Dodato 1 stavki.", snap.Message)
	require.NotNil(t, snap.ReceiptID)
	assert.Len(t, snap.Items, 1, "candidates are kept until reset")

	require.Len(t, h.writer.headers, 1)
	hdr := h.writer.headers[0]
	assert.Equal(t, user, hdr.UserID)
	assert.Equal(t, constants.ManualSource, hdr.Source)
	assert.Nil(t, hdr.Place)

	require.Len(t, h.writer.itemBatch, 1)
	require.Len(t, h.writer.itemBatch[0], 1)
	it := h.writer.itemBatch[0][0]
	assert.Equal(t, *snap.ReceiptID, it.ReceiptID)
	assert.Equal(t, "Hleb", it.Name)
	assert.Equal(t, constants.Groceries, it.Category)
	assert.True(t, it.UnitPrice.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, 2, it.Quantity)

	require.Len(t, hooked, 1)
	assert.Equal(t, *snap.ReceiptID, hooked[0].ID)
	assert.Equal(t, "240", hooked[0].Total().String())

	_, err = h.r.Save(context.Background())
	assert.ErrorIs(t, err, common.ErrInvalidState, "a saved flow is not saved twice")
}

func TestSaveNormalizesItems(t *testing.T) {
	h := newHarness(t, uuid.New(), "")
	_, err := h.r.SelectMode(constants.EntryManual)
	require.NoError(t, err)
	_, err = h.r.UpdateItem(0, ItemPatch{Name: ptr("  "), UnitPrice: decimal.RequireFromString("-3"), Quantity: 0})
	require.NoError(t, err)
	_, err = h.r.SetDate("9")
	require.NoError(t, err)

	_, err = h.r.Save(context.Background())
	require.NoError(t, err)
	it := h.writer.itemBatch[0][0]
	assert.Equal(t, constants.PlaceholderItemName, it.Name)
	assert.Equal(t, constants.Other, it.Category)
	assert.True(t, it.UnitPrice.IsZero())
	assert.Equal(t, 1, it.Quantity)
	assert.Equal(t, "2024-03-09", h.writer.headers[0].Date)
}

func TestSubmitSourceSuccess(t *testing.T) {
	resp := `[{"naziv":"Hleb","kategorija":1,"cena":120,"kolicina":1,"datum":"2024-01-05","vreme":"14:30:00"},
	          {"naziv":"","kategorija":7.2,"cena":"x"}]`
	h := newHarness(t, uuid.New(), resp)

	_, err := h.r.SelectMode(constants.EntryLink)
	require.NoError(t, err)
	snap, err := h.r.SubmitSource(context.Background(), "  https://suf.purs.gov.rs/v/?vl=abc ")
	require.NoError(t, err)

	assert.Equal(t, constants.StateAwaitingReview, snap.State)
	assert.Equal(t, MsgReview, snap.Message)
	assert.Equal(t, "https://suf.purs.gov.rs/v/?vl=abc", snap.Source)
	assert.Equal(t, "2024-01-05", snap.Date)
	assert.Equal(t, "14:30:00", snap.Time)
	assert.Empty(t, snap.Place)
	assert.True(t, snap.CanSave)
	require.Len(t, snap.Items, 2)
	assert.Equal(t, constants.PlaceholderItemName, snap.Items[1].Name)
	assert.Equal(t, constants.Other, snap.Items[1].Category)

	_, err = h.r.SetPlace(" Maxi ")
	require.NoError(t, err)
	_, err = h.r.Save(context.Background())
	require.NoError(t, err)
	hdr := h.writer.headers[0]
	assert.Equal(t, "https://suf.purs.gov.rs/v/?vl=abc", hdr.Source)
	require.NotNil(t, hdr.Place)
	assert.Equal(t, "Maxi", *hdr.Place)
}

func TestSubmitSourceInvalidJSON(t *testing.T) {
	h := newHarness(t, uuid.New(), "not json")

	snap, err := h.r.SubmitSource(context.Background(), "https://example.com/r")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrClassifier)
	assert.Equal(t, constants.StateIdle, snap.State)
	assert.Empty(t, snap.Items)
	assert.Equal(t, "Greška: neispravan JSON od AI not json", snap.Message)
	assert.Equal(t, "not json", snap.Raw)
	assert.False(t, snap.CanSave)

	snap, err = h.r.Save(context.Background())
	assert.ErrorIs(t, err, common.ErrNoItems)
	assert.Equal(t, MsgNoItems, snap.Message)
	assert.Empty(t, h.writer.headers, "empty save never reaches the backend")
}

func TestSubmitSourceFailures(t *testing.T) {
	t.Run("empty url", func(t *testing.T) {
		h := newHarness(t, uuid.New(), "[]")
		snap, err := h.r.SubmitSource(context.Background(), "   ")
		assert.ErrorIs(t, err, common.ErrInvalidInput)
		assert.Equal(t, MsgEnterLink, snap.Message)
		assert.Equal(t, constants.StateIdle, snap.State)
		assert.Zero(t, h.ext.calls)
	})

	t.Run("no pre block", func(t *testing.T) {
		h := newHarness(t, uuid.New(), "[]")
		h.ext.res = extract.Result{Text: extract.NotFoundText}
		snap, err := h.r.SubmitSource(context.Background(), "https://example.com")
		assert.ErrorIs(t, err, common.ErrExtraction)
		assert.Equal(t, extract.NotFoundText, snap.Message)
		assert.Zero(t, *h.aiCalls)
	})

	t.Run("fetch error", func(t *testing.T) {
		h := newHarness(t, uuid.New(), "[]")
		h.ext.err = errors.New("dial tcp: refused")
		snap, err := h.r.SubmitSource(context.Background(), "https://example.com")
		assert.ErrorIs(t, err, common.ErrExtraction)
		assert.Equal(t, "Greška pri obradi: dial tcp: refused", snap.Message)
		assert.Equal(t, constants.StateIdle, snap.State)
	})

	t.Run("signed out", func(t *testing.T) {
		h := newHarness(t, uuid.Nil, "[]")
		snap, err := h.r.SubmitSource(context.Background(), "https://example.com")
		assert.ErrorIs(t, err, common.ErrUnauthorized)
		assert.Equal(t, MsgSignInNeeded, snap.Message)
		assert.Zero(t, *h.aiCalls)
	})

	t.Run("empty ai answer", func(t *testing.T) {
		h := newHarness(t, uuid.New(), "  ")
		snap, err := h.r.SubmitSource(context.Background(), "https://example.com")
		assert.ErrorIs(t, err, common.ErrClassifier)
		assert.Equal(t, "Nema AI odgovora", snap.Message)
	})

	t.Run("manual mode", func(t *testing.T) {
		h := newHarness(t, uuid.New(), "[]")
		_, err := h.r.SelectMode(constants.EntryManual)
		require.NoError(t, err)
		_, err = h.r.SubmitSource(context.Background(), "https://example.com")
		assert.ErrorIs(t, err, common.ErrInvalidState)
	})
}

func manualWithPlace(t *testing.T, h harness, place string) {
	t.Helper()
	_, err := h.r.SelectMode(constants.EntryManual)
	require.NoError(t, err)
	_, err = h.r.UpdateItem(0, ItemPatch{Name: ptr("Kafa"), Category: constants.Dining})
	require.NoError(t, err)
	_, err = h.r.SetPlace(place)
	require.NoError(t, err)
}

func TestHeaderRetryWithoutPlace(t *testing.T) {
	h := newHarness(t, uuid.New(), "")
	h.writer.headerErrs = []error{errors.New(`column "mesto" does not exist`), nil}
	manualWithPlace(t, h, "Maxi")

	snap, err := h.r.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, constants.StateSaved, snap.State)
	require.Len(t, h.writer.headers, 2)
	require.NotNil(t, h.writer.headers[0].Place)
	assert.Nil(t, h.writer.headers[1].Place)
	assert.Len(t, h.writer.itemBatch, 1)
}

func TestHeaderFailureAfterRetryWritesNoItems(t *testing.T) {
	h := newHarness(t, uuid.New(), "")
	h.writer.headerErrs = []error{errors.New("boom"), errors.New("still boom")}
	manualWithPlace(t, h, "Maxi")

	snap, err := h.r.Save(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDatabase)
	assert.Equal(t, "Greška pri snimanju: still boom", snap.Message)
	assert.Equal(t, constants.StateAwaitingReview, snap.State)
	assert.Len(t, h.writer.headers, 2)
	assert.Empty(t, h.writer.itemBatch)
}

func TestHeaderFailureWithoutPlaceIsNotRetried(t *testing.T) {
	h := newHarness(t, uuid.New(), "")
	h.writer.headerErrs = []error{errors.New("boom")}
	manualWithPlace(t, h, "")

	_, err := h.r.Save(context.Background())
	require.Error(t, err)
	assert.Len(t, h.writer.headers, 1)
	assert.Empty(t, h.writer.itemBatch)
}

func TestItemFailureCompensation(t *testing.T) {
	for _, compensate := range []bool{true, false} {
		h := newHarness(t, uuid.New(), "", WithCompensation(compensate))
		h.writer.itemsErr = errors.New("violates check constraint")
		manualWithPlace(t, h, "")

		snap, err := h.r.Save(context.Background())
		require.Error(t, err)
		assert.Equal(t, "Greška pri snimanju: violates check constraint", snap.Message)
		if compensate {
			assert.Len(t, h.writer.deleted, 1)
		} else {
			assert.Empty(t, h.writer.deleted)
		}
	}
}

func TestUnauthenticatedSave(t *testing.T) {
	h := newHarness(t, uuid.Nil, "")
	_, err := h.r.SelectMode(constants.EntryManual)
	require.NoError(t, err)

	snap, err := h.r.Save(context.Background())
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeAuth, appErr.Code)
	assert.Equal(t, MsgSignInNeeded, snap.Message)
	assert.Empty(t, h.writer.headers)
}

func TestBusyGuardDuringSave(t *testing.T) {
	h := newHarness(t, uuid.New(), "")
	h.writer.gate = make(chan struct{})
	_, err := h.r.SelectMode(constants.EntryManual)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.r.Save(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return h.r.Snapshot().State == constants.StateSaving },
		time.Second, time.Millisecond)

	_, err = h.r.Save(context.Background())
	assert.ErrorIs(t, err, common.ErrBusy)
	_, err = h.r.AddItem()
	assert.ErrorIs(t, err, common.ErrBusy)
	_, err = h.r.Reset()
	assert.ErrorIs(t, err, common.ErrBusy)
	_, err = h.r.SelectMode(constants.EntryQR)
	assert.ErrorIs(t, err, common.ErrBusy)
	assert.False(t, h.r.CanSave())

	close(h.writer.gate)
	require.NoError(t, <-done)
	assert.Equal(t, constants.StateSaved, h.r.Snapshot().State)
}

func TestEditsAndReset(t *testing.T) {
	h := newHarness(t, uuid.New(), "")

	_, err := h.r.AddItem()
	assert.ErrorIs(t, err, common.ErrInvalidState, "nothing to edit while idle")

	_, err = h.r.SelectMode(constants.EntryManual)
	require.NoError(t, err)
	_, err = h.r.RemoveItem(0)
	assert.ErrorIs(t, err, common.ErrInvalidInput, "manual keeps one row")

	snap, err := h.r.AddItem()
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)
	_, err = h.r.UpdateItem(5, ItemPatch{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	snap, err = h.r.UpdateItem(1, ItemPatch{Category: constants.Category(42)})
	require.NoError(t, err)
	assert.Equal(t, constants.Other, snap.Items[1].Category)
	snap, err = h.r.RemoveItem(0)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)

	// selecting manual again keeps existing candidates
	snap, err = h.r.SelectMode(constants.EntryManual)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)

	_, err = h.r.Save(context.Background())
	require.NoError(t, err)
	snap, err = h.r.SetTime("10:00")
	require.NoError(t, err)
	assert.Equal(t, constants.StateAwaitingReview, snap.State, "editing a saved receipt reopens the draft")
	assert.Nil(t, snap.ReceiptID)

	snap, err = h.r.Reset()
	require.NoError(t, err)
	assert.Equal(t, constants.StateIdle, snap.State)
	assert.Equal(t, constants.EntryManual, snap.Mode)
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.Date)
	assert.Empty(t, snap.Message)

	snap, err = h.r.SelectMode(constants.EntryQR)
	require.NoError(t, err)
	assert.Equal(t, constants.StateIdle, snap.State)
	assert.Empty(t, snap.Items)

	_, err = h.r.SelectMode("fax")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

type stubHints map[string]constants.Category

func (s stubHints) Suggest(name string) (constants.Category, bool) {
	c, ok := s[name]
	return c, ok
}

func TestSuggestCategory(t *testing.T) {
	h := newHarness(t, uuid.New(), "")
	_, ok := h.r.SuggestCategory("hleb")
	assert.False(t, ok)

	h = newHarness(t, uuid.New(), "", WithHints(stubHints{"hleb": constants.Groceries}))
	c, ok := h.r.SuggestCategory("hleb")
	assert.True(t, ok)
	assert.Equal(t, constants.Groceries, c)
}

func TestRegistry(t *testing.T) {
	built := 0
	reg := NewRegistry(func(user uuid.UUID) *Reconciler {
		built++
		return NewReconciler(Deps{Session: StaticUser(user)}, quietLogger())
	})
	a, b := uuid.New(), uuid.New()
	assert.Same(t, reg.Get(a), reg.Get(a))
	assert.NotSame(t, reg.Get(a), reg.Get(b))
	assert.Equal(t, 2, built)
	assert.Equal(t, 2, reg.Len())
	reg.Drop(a)
	assert.Equal(t, 1, reg.Len())
}

func TestRemoveItemRacesWithModeChange(t *testing.T) {
	h := newHarness(t, uuid.New(), "")
	_, err := h.r.SelectMode(constants.EntryManual)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.r.AddItem()
			snap, _ := h.r.RemoveItem(0)
			if snap.Mode == constants.EntryManual {
				assert.NotEmpty(t, snap.Items, "manual entry keeps at least one row")
			}
		}()
		go func(i int) {
			defer wg.Done()
			mode := constants.EntryManual
			if i%2 == 0 {
				mode = constants.EntryLink
			}
			_, _ = h.r.SelectMode(mode)
		}(i)
	}
	wg.Wait()
}

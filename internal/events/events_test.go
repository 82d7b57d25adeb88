package events

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
	"github.com/keshly/keshly/internal/async"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
)

type capturePublisher struct {
	mu     sync.Mutex
	keys   []string
	bodies [][]byte
	err    error
	closed bool
}

func (c *capturePublisher) Publish(_ context.Context, key string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.bodies = append(c.bodies, body)
	return nil
}

func (c *capturePublisher) Close() error { c.closed = true; return nil }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleReceipt() entity.ReceiptWithItems {
	place := "Beograd"
	return entity.ReceiptWithItems{
		ReceiptHeader: entity.ReceiptHeader{ID: uuid.New(), UserID: uuid.New(), Date: "2024-03-01", Place: &place},
		Items: []entity.LineItem{
			{Name: "Hleb", Category: constants.Groceries, UnitPrice: decimal.RequireFromString("89.99"), Quantity: 2},
			{Name: "Sapun", Category: constants.Other, UnitPrice: decimal.NewFromInt(120), Quantity: 1},
		},
	}
}

func TestReceiptSavedMessage(t *testing.T) {
	rec := sampleReceipt()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := NewReceiptSaved(rec, now)
	assert.Equal(t, 2, msg.Items)
	assert.Equal(t, "299.98", msg.Total.StringFixed(2))
	assert.Equal(t, "Beograd", msg.Place)

	body, err := msg.ToJSON()
	require.NoError(t, err)
	back, err := ReceiptSavedFromJSON(body)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, back.ReceiptID)
	assert.True(t, msg.Total.Equal(back.Total))
	assert.True(t, now.Equal(back.SavedAt))
}

func TestDispatcherPublishesSavedReceipts(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, "", quiet(), async.WithWorkers(1))

	rec := sampleReceipt()
	d.ReceiptSaved(context.Background(), rec)
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, pub.bodies, 1)
	assert.Equal(t, KindReceiptSaved, pub.keys[0])
	assert.True(t, pub.closed)

	msg, err := ReceiptSavedFromJSON(pub.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, rec.UserID, msg.UserID)
}

func TestDispatcherSwallowsPublishErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	d := NewDispatcher(pub, "custom.key", quiet())

	d.ReceiptSaved(context.Background(), sampleReceipt())
	require.NoError(t, d.Close(context.Background()))
	assert.Empty(t, pub.bodies)

	// closed queue: no panic, event dropped
	d.ReceiptSaved(context.Background(), sampleReceipt())
}

func TestNewPublisherWithoutURLIsNop(t *testing.T) {
	pub, err := NewPublisher(common.EventsConfig{}, quiet())
	require.NoError(t, err)
	_, ok := pub.(*NopPublisher)
	assert.True(t, ok)
	assert.NoError(t, pub.Publish(context.Background(), "k", []byte("{}")))
	assert.NoError(t, pub.Close())
}

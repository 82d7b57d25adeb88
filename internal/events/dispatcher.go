package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keshly/keshly/internal/async"
	"github.com/keshly/keshly/internal/entity"
)

// Dispatcher publishes receipt events off the request path.
type Dispatcher struct {
	pub        Publisher
	queue      *async.WorkerQueue
	routingKey string
	now        func() time.Time
	logger     *slog.Logger
}

func NewDispatcher(pub Publisher, routingKey string, logger *slog.Logger, opts ...async.Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if routingKey == "" {
		routingKey = KindReceiptSaved
	}
	d := &Dispatcher{pub: pub, routingKey: routingKey, now: time.Now, logger: logger}
	d.queue = async.NewWorkerQueue(d.handle, logger, opts...)
	return d
}

func (d *Dispatcher) handle(ctx context.Context, job async.Job) error {
	if err := d.pub.Publish(ctx, d.routingKey, job.Payload); err != nil {
		return fmt.Errorf("publish %s: %w", job.Kind, err)
	}
	d.logger.Info("events.published", "kind", job.Kind, "job_id", job.ID, "trace_id", job.TraceID)
	return nil
}

// ReceiptSaved is usable as an ingest save hook.
func (d *Dispatcher) ReceiptSaved(ctx context.Context, rec entity.ReceiptWithItems) {
	body, err := NewReceiptSaved(rec, d.now()).ToJSON()
	if err != nil {
		d.logger.Error("events.encode_failed", "receipt_id", rec.ID, "err", err)
		return
	}
	job := async.Job{Kind: KindReceiptSaved, Payload: body, TraceID: rec.ID.String()}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		d.logger.Warn("events.enqueue_failed", "receipt_id", rec.ID, "err", err)
	}
}

// Close drains pending events and closes the publisher.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.queue.Shutdown(ctx)
	return d.pub.Close()
}

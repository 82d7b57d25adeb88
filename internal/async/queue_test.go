package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWorkerQueueDrainsOnShutdown(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	q := NewWorkerQueue(func(_ context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, string(job.Payload))
		mu.Unlock()
		if job.Kind == "bad" {
			return errors.New("boom")
		}
		return nil
	}, quietLogger(), WithWorkers(3), WithQueueSize(10))

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{Kind: "ok", Payload: []byte(p)}))
	}
	require.NoError(t, q.Enqueue(context.Background(), Job{Kind: "bad", Payload: []byte("d")}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)
	q.Shutdown(ctx)

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, seen)
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{}), ErrQueueClosed)
}

func TestWorkerQueueBackpressureHonoursContext(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	q := NewWorkerQueue(func(context.Context, Job) error {
		started.Add(1)
		<-release
		return nil
	}, quietLogger(), WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{}))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, Job{}), context.DeadlineExceeded)

	close(release)
	q.Shutdown(context.Background())
}

func TestWorkerQueueAppliesTimeout(t *testing.T) {
	got := make(chan error, 1)
	q := NewWorkerQueue(func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}, quietLogger(), WithProcessTimeout(10*time.Millisecond))

	require.NoError(t, q.Enqueue(context.Background(), Job{}))
	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("handler context never expired")
	}
	q.Shutdown(context.Background())
}

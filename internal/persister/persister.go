// Package persister drains the durable click stream into the ownership store.
// It is the recovery path for partial commits and the write path for
// deployments that split ingestion from storage.
package persister

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/valdo404/clickplanet-go/internal/bus"
	"github.com/valdo404/clickplanet-go/internal/clickpb"
	"github.com/valdo404/clickplanet-go/internal/store"
)

// Worker replays clicks from the bus into the store. Replays are idempotent:
// the store drops stale writes, so redelivered clicks are harmless.
type Worker struct {
	consumer bus.ClickConsumer
	store    store.TileStore

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup

	applied atomic.Uint64
	failed  atomic.Uint64
}

// NewWorker creates a persister over the given consumer and store.
func NewWorker(consumer bus.ClickConsumer, s store.TileStore) *Worker {
	return &Worker{consumer: consumer, store: s}
}

// Applied returns the number of clicks written into the store.
func (w *Worker) Applied() uint64 { return w.applied.Load() }

// Failed returns the number of click writes that errored (and were NAKed for
// redelivery).
func (w *Worker) Failed() uint64 { return w.failed.Load() }

// Start launches the drain loop.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.ConsumeClicks(ctx, w.apply); err != nil && ctx.Err() == nil {
			log.Printf("[persister] consume loop ended: %v", err)
		}
	}()
}

// Stop cancels the drain loop and waits for it to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	w.wg.Wait()
}

func (w *Worker) apply(ctx context.Context, c *clickpb.Click) error {
	if err := store.PutClick(ctx, w.store, c); err != nil {
		w.failed.Add(1)
		return err
	}
	w.applied.Add(1)
	return nil
}

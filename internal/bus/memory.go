package bus

import (
	"context"
	"log"
	"sync"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

const memorySubBuffer = 1024

// Memory is an in-process Bus: single-node deployments and tests run the
// whole pipeline against it without a broker. Publish order is delivery
// order for every subscriber, which trivially satisfies the per-tile FIFO
// contract.
type Memory struct {
	mu     sync.Mutex
	subs   map[*memorySubscription]struct{}
	clicks chan *clickpb.Click
	closed bool
}

// NewMemory creates an in-process bus.
func NewMemory() *Memory {
	return &Memory{
		subs:   make(map[*memorySubscription]struct{}),
		clicks: make(chan *clickpb.Click, memorySubBuffer),
	}
}

type memorySubscription struct {
	bus     *Memory
	updates chan *clickpb.UpdateNotification
	once    sync.Once
}

func (s *memorySubscription) Updates() <-chan *clickpb.UpdateNotification {
	return s.updates
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.updates)
	})
	return nil
}

// PublishClick implements Bus. A full queue sheds its oldest click rather
// than blocking the publisher; the broker-backed stream is configured with
// the same discard-old policy, and on a single node the inline store write
// already holds the state.
func (b *Memory) PublishClick(_ context.Context, c *clickpb.Click) error {
	for {
		select {
		case b.clicks <- c:
			return nil
		default:
		}
		select {
		case old := <-b.clicks:
			log.Printf("[bus] click queue full, discarding oldest (tile %d)", old.TileID)
		default:
		}
	}
}

// PublishUpdate implements Bus. A subscriber that stopped draining its feed
// loses notifications rather than stalling the publisher.
func (b *Memory) PublishUpdate(_ context.Context, u *clickpb.UpdateNotification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.updates <- u:
		default:
			log.Printf("[bus] dropping update for tile %d: slow in-process subscriber", u.TileID)
		}
	}
	return nil
}

// SubscribeUpdates implements Bus.
func (b *Memory) SubscribeUpdates(_ context.Context) (Subscription, error) {
	s := &memorySubscription{
		bus:     b,
		updates: make(chan *clickpb.UpdateNotification, memorySubBuffer),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Subscribers returns the number of attached update subscriptions.
func (b *Memory) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ConsumeClicks implements ClickConsumer. Handler errors requeue the click,
// matching the broker's at-least-once behavior.
func (b *Memory) ConsumeClicks(ctx context.Context, handler ClickHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-b.clicks:
			if err := handler(ctx, c); err != nil {
				log.Printf("[bus] click handler failed for tile %d, requeueing: %v", c.TileID, err)
				select {
				case b.clicks <- c:
				default:
					log.Printf("[bus] requeue failed for tile %d: queue full", c.TileID)
				}
			}
		}
	}
}

// Package hub fans live ownership updates out to connected listeners. It sits
// between the bus and the websocket layer: one bus subscription in, one
// bounded queue per session out.
package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/valdo404/clickplanet-go/internal/bus"
	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

const (
	defaultSessionBuffer = 256
	defaultShardCount    = 16

	resubscribeMinBackoff = time.Second
	resubscribeMaxBackoff = 30 * time.Second

	// After this many consecutive failed resubscribe attempts the hub gives
	// up; a process that cannot reach the bus serves stale silence forever.
	maxResubscribeFailures = 10
)

// Session is one listener's bounded outbound queue. Frames are pre-encoded
// notifications; the websocket layer writes them as binary messages. When Out
// is closed the session is over — check Dropped to distinguish a backpressure
// eviction from a normal close.
type Session struct {
	id  string
	out chan []byte

	closeOnce sync.Once
	dropped   atomic.Bool
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Out is the session's frame queue. Closed when the session ends.
func (s *Session) Out() <-chan []byte { return s.out }

// Dropped reports whether the hub evicted this session for not keeping up.
func (s *Session) Dropped() bool { return s.dropped.Load() }

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.out) })
}

// Config configures a Hub. Zero values pick production defaults.
type Config struct {
	Bus           bus.Bus
	SessionBuffer int
	Shards        int

	// Fatal is called when the bus is gone for good. Defaults to log.Fatalf.
	Fatal func(format string, args ...any)
}

// Hub is the broadcast fan-out. Sessions live in hash-sharded registries so a
// broadcast storm on one shard does not serialize the whole fleet of
// listeners behind a single map.
type Hub struct {
	bus    bus.Bus
	shards []*xsync.Map[string, *Session]
	buffer int
	fatal  func(format string, args ...any)

	backoffMin time.Duration
	backoffMax time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu  sync.Mutex
	sub bus.Subscription

	delivered atomic.Uint64
	droppedN  atomic.Uint64
}

// New creates a Hub. Call Start to attach it to the bus.
func New(cfg Config) *Hub {
	buffer := cfg.SessionBuffer
	if buffer <= 0 {
		buffer = defaultSessionBuffer
	}
	shardCount := cfg.Shards
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	fatal := cfg.Fatal
	if fatal == nil {
		fatal = log.Fatalf
	}

	shards := make([]*xsync.Map[string, *Session], shardCount)
	for i := range shards {
		shards[i] = xsync.NewMap[string, *Session]()
	}
	return &Hub{
		bus:        cfg.Bus,
		shards:     shards,
		buffer:     buffer,
		fatal:      fatal,
		backoffMin: resubscribeMinBackoff,
		backoffMax: resubscribeMaxBackoff,
		stopCh:     make(chan struct{}),
	}
}

func (h *Hub) shardFor(id string) *xsync.Map[string, *Session] {
	return h.shards[xxh3.HashString(id)%uint64(len(h.shards))]
}

// Register creates a session and adds it to the registry. The caller owns the
// returned session and must Unregister it when the connection ends.
func (h *Hub) Register(id string) *Session {
	s := &Session{id: id, out: make(chan []byte, h.buffer)}
	h.shardFor(id).Store(id, s)
	return s
}

// Unregister removes a session and closes its queue. Safe to call after the
// hub already dropped the session.
func (h *Hub) Unregister(s *Session) {
	h.shardFor(s.id).Delete(s.id)
	s.close()
}

// Sessions returns the number of attached sessions.
func (h *Hub) Sessions() int {
	n := 0
	for _, shard := range h.shards {
		n += shard.Size()
	}
	return n
}

// Delivered returns the count of frames handed to session queues.
func (h *Hub) Delivered() uint64 { return h.delivered.Load() }

// DroppedSessions returns the count of sessions evicted for backpressure.
func (h *Hub) DroppedSessions() uint64 { return h.droppedN.Load() }

// Broadcast encodes the notification once and offers it to every session.
// A session whose queue is full is evicted on the spot: a listener that
// cannot drain 256 frames is beyond catching up, and stalling everyone else
// behind it is worse than cutting it loose.
func (h *Hub) Broadcast(u *clickpb.UpdateNotification) {
	frame := u.Marshal()
	for _, shard := range h.shards {
		shard.Range(func(id string, s *Session) bool {
			select {
			case s.out <- frame:
				h.delivered.Add(1)
			default:
				shard.Delete(id)
				s.dropped.Store(true)
				s.close()
				h.droppedN.Add(1)
				log.Printf("[hub] dropped slow session %s", id)
			}
			return true
		})
	}
}

// Start launches the bus pump.
func (h *Hub) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.pump()
	}()
}

// Stop detaches from the bus and waits for the pump to exit. Sessions are not
// closed here; their connections own them.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.mu.Lock()
	if h.sub != nil {
		h.sub.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// pump keeps one live bus subscription and broadcasts everything it yields.
// When the subscription dies it resubscribes with exponential backoff; after
// maxResubscribeFailures consecutive failures it calls Fatal.
func (h *Hub) pump() {
	backoff := h.backoffMin
	failures := 0

	for {
		select {
		case <-h.stopCh:
			return
		default:
		}

		sub, err := h.bus.SubscribeUpdates(context.Background())
		if err != nil {
			failures++
			if failures >= maxResubscribeFailures {
				h.fatal("[hub] bus unreachable after %d attempts: %v", failures, err)
				return
			}
			log.Printf("[hub] subscribe failed (attempt %d), retrying in %s: %v", failures, backoff, err)
			select {
			case <-h.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, h.backoffMax)
			continue
		}
		failures = 0
		backoff = h.backoffMin

		h.mu.Lock()
		h.sub = sub
		h.mu.Unlock()

		h.drain(sub)

		select {
		case <-h.stopCh:
			return
		default:
			log.Printf("[hub] update feed ended, resubscribing")
		}
	}
}

func (h *Hub) drain(sub bus.Subscription) {
	for {
		select {
		case <-h.stopCh:
			return
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			h.Broadcast(u)
		}
	}
}

package hub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valdo404/clickplanet-go/internal/bus"
	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

func recvFrame(t *testing.T, s *Session) []byte {
	t.Helper()
	select {
	case frame, ok := <-s.Out():
		if !ok {
			t.Fatal("session closed unexpectedly")
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func TestBroadcastReachesEverySession(t *testing.T) {
	h := New(Config{Bus: bus.NewMemory()})

	s1 := h.Register("alpha")
	defer h.Unregister(s1)
	s2 := h.Register("beta")
	defer h.Unregister(s2)

	if got := h.Sessions(); got != 2 {
		t.Fatalf("sessions: got %d, want 2", got)
	}

	h.Broadcast(&clickpb.UpdateNotification{TileID: 9, CountryID: "fr", PreviousCountryID: "ru"})

	for _, s := range []*Session{s1, s2} {
		u := new(clickpb.UpdateNotification)
		if err := u.Unmarshal(recvFrame(t, s)); err != nil {
			t.Fatal(err)
		}
		if u.TileID != 9 || u.CountryID != "fr" || u.PreviousCountryID != "ru" {
			t.Fatalf("frame for %s: got %+v", s.ID(), u)
		}
	}
}

func TestBroadcastPreservesOrderPerSession(t *testing.T) {
	h := New(Config{Bus: bus.NewMemory()})
	s := h.Register("alpha")
	defer h.Unregister(s)

	for i := int32(0); i < 10; i++ {
		h.Broadcast(&clickpb.UpdateNotification{TileID: i, CountryID: "fr"})
	}
	for i := int32(0); i < 10; i++ {
		u := new(clickpb.UpdateNotification)
		if err := u.Unmarshal(recvFrame(t, s)); err != nil {
			t.Fatal(err)
		}
		if u.TileID != i {
			t.Fatalf("frame %d: got tile %d", i, u.TileID)
		}
	}
}

func TestSlowSessionIsDropped(t *testing.T) {
	h := New(Config{Bus: bus.NewMemory(), SessionBuffer: 2})

	slow := h.Register("slow")
	fast := h.Register("fast")
	defer h.Unregister(fast)

	// Fill slow's queue without draining it; the overflowing broadcast must
	// evict slow and still reach fast, which keeps up.
	for i := int32(0); i < 3; i++ {
		h.Broadcast(&clickpb.UpdateNotification{TileID: i, CountryID: "fr"})
		recvFrame(t, fast)
	}

	if !slow.Dropped() {
		t.Fatal("slow session not marked dropped")
	}
	if h.Sessions() != 1 {
		t.Fatalf("sessions after drop: got %d, want 1", h.Sessions())
	}
	if h.DroppedSessions() != 1 {
		t.Fatalf("dropped counter: got %d, want 1", h.DroppedSessions())
	}

	// The queue drains its buffered frames, then closes.
	for i := 0; i < 2; i++ {
		recvFrame(t, slow)
	}
	select {
	case _, ok := <-slow.Out():
		if ok {
			t.Fatal("expected closed queue after drop")
		}
	case <-time.After(time.Second):
		t.Fatal("queue not closed after drop")
	}
}

func TestUnregisterAfterDropIsSafe(t *testing.T) {
	h := New(Config{Bus: bus.NewMemory(), SessionBuffer: 1})
	s := h.Register("alpha")

	h.Broadcast(&clickpb.UpdateNotification{TileID: 1, CountryID: "fr"})
	h.Broadcast(&clickpb.UpdateNotification{TileID: 2, CountryID: "de"})

	if !s.Dropped() {
		t.Fatal("expected drop")
	}
	h.Unregister(s) // must not panic on the already-closed queue
}

func TestPumpDeliversBusUpdates(t *testing.T) {
	b := bus.NewMemory()
	h := New(Config{Bus: b})
	h.Start()
	defer h.Stop()

	s := h.Register("alpha")
	defer h.Unregister(s)

	// The pump subscribes asynchronously; publish until a frame lands.
	deadline := time.After(2 * time.Second)
	for {
		b.PublishUpdate(context.Background(), &clickpb.UpdateNotification{TileID: 5, CountryID: "jp"})
		select {
		case frame := <-s.Out():
			u := new(clickpb.UpdateNotification)
			if err := u.Unmarshal(frame); err != nil {
				t.Fatal(err)
			}
			if u.TileID != 5 || u.CountryID != "jp" {
				t.Fatalf("got %+v", u)
			}
			return
		case <-deadline:
			t.Fatal("pump never delivered an update")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type countingBus struct {
	bus.Bus
	subscribes atomic.Int32
	fail       int32
}

func (c *countingBus) SubscribeUpdates(ctx context.Context) (bus.Subscription, error) {
	n := c.subscribes.Add(1)
	if n <= c.fail {
		return nil, bus.ErrUnavailable
	}
	return c.Bus.SubscribeUpdates(ctx)
}

func TestPumpRetriesSubscription(t *testing.T) {
	cb := &countingBus{Bus: bus.NewMemory(), fail: 2}
	h := New(Config{Bus: cb})
	h.backoffMin = time.Millisecond
	h.backoffMax = 10 * time.Millisecond
	h.Start()
	defer h.Stop()

	deadline := time.After(5 * time.Second)
	for cb.subscribes.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("pump stuck after %d subscribe attempts", cb.subscribes.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestPumpGivesUpWhenBusIsGone(t *testing.T) {
	cb := &countingBus{Bus: bus.NewMemory(), fail: 1 << 30}
	fatal := make(chan struct{})
	h := New(Config{Bus: cb, Fatal: func(string, ...any) { close(fatal) }})
	h.backoffMin = time.Millisecond
	h.backoffMax = 10 * time.Millisecond
	h.Start()
	defer h.Stop()

	select {
	case <-fatal:
	case <-time.After(5 * time.Second):
		t.Fatal("pump never declared the bus gone")
	}
}

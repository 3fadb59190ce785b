package bus

import (
	"context"
	"testing"
	"time"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

func recvUpdate(t *testing.T, sub Subscription) *clickpb.UpdateNotification {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		if !ok {
			t.Fatal("updates channel closed")
		}
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	return nil
}

func TestMemoryUpdateFanOutPreservesOrder(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	s1, err := b.SubscribeUpdates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()
	s2, err := b.SubscribeUpdates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	for i := 0; i < 5; i++ {
		b.PublishUpdate(ctx, &clickpb.UpdateNotification{TileID: 42, CountryID: "fr", PreviousCountryID: ""})
		b.PublishUpdate(ctx, &clickpb.UpdateNotification{TileID: 42, CountryID: "ru", PreviousCountryID: "fr"})
	}

	for _, sub := range []Subscription{s1, s2} {
		for i := 0; i < 5; i++ {
			if u := recvUpdate(t, sub); u.CountryID != "fr" {
				t.Fatalf("update %d: got %s, want fr", 2*i, u.CountryID)
			}
			if u := recvUpdate(t, sub); u.CountryID != "ru" {
				t.Fatalf("update %d: got %s, want ru", 2*i+1, u.CountryID)
			}
		}
	}
}

func TestMemorySubscriberAttachedLateMissesEarlier(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	b.PublishUpdate(ctx, &clickpb.UpdateNotification{TileID: 1, CountryID: "fr"})

	sub, err := b.SubscribeUpdates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	b.PublishUpdate(ctx, &clickpb.UpdateNotification{TileID: 2, CountryID: "de"})
	if u := recvUpdate(t, sub); u.TileID != 2 {
		t.Fatalf("late subscriber saw tile %d, want 2", u.TileID)
	}
}

func TestMemoryCloseStopsDelivery(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	sub, err := b.SubscribeUpdates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sub.Close()
	sub.Close() // idempotent

	select {
	case _, ok := <-sub.Updates():
		if ok {
			t.Fatal("received update after close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("updates channel not closed")
	}
}

func TestMemoryConsumeClicks(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.PublishClick(ctx, &clickpb.Click{TileID: 7, CountryID: "fr", TimestampNs: 1, ClickID: "a"})
	b.PublishClick(ctx, &clickpb.Click{TileID: 8, CountryID: "de", TimestampNs: 2, ClickID: "b"})

	got := make(chan *clickpb.Click, 2)
	go b.ConsumeClicks(ctx, func(_ context.Context, c *clickpb.Click) error {
		got <- c
		return nil
	})

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for click")
		}
	}
}

func TestMemoryPublishClickNeverBlocks(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	// No consumer attached: every publish past the buffer must still return
	// promptly, shedding the oldest click.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < memorySubBuffer+10; i++ {
			if err := b.PublishClick(ctx, &clickpb.Click{TileID: int32(i), CountryID: "fr", TimestampNs: uint64(i)}); err != nil {
				t.Errorf("publish %d: %v", i, err)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a full queue with no consumer")
	}

	// The queue holds the newest memorySubBuffer clicks; the head is the
	// first survivor, not tile 0.
	c := <-b.clicks
	if c.TileID != 10 {
		t.Fatalf("oldest surviving click: got tile %d, want 10", c.TileID)
	}
}

func TestMemoryConsumeClicksRequeuesOnError(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.PublishClick(ctx, &clickpb.Click{TileID: 7, CountryID: "fr", TimestampNs: 1})

	attempts := make(chan int, 4)
	calls := 0
	done := make(chan struct{})
	go b.ConsumeClicks(ctx, func(_ context.Context, c *clickpb.Click) error {
		calls++
		attempts <- calls
		if calls == 1 {
			return ErrUnavailable
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("click was not redelivered after handler error (attempts seen: %d)", len(attempts))
	}
}

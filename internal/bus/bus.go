// Package bus is the publish/subscribe substrate between the click
// coordinator, the broadcast hub, and the persister.
//
// Two channels with different guarantees:
//
//   - the click stream: durable, at-least-once, one subject per tile
//     (clicks.tile.<id>). Carries the full Click record; the persister drains
//     it into the ownership store.
//   - the update feed: live-only fan-in subject (clicks.all) carrying
//     UpdateNotification. Subscriptions exist for the lifetime of the
//     subscriber; nothing is replayed on reconnect (clients bootstrap via the
//     batch query instead).
//
// Both preserve per-subject publish order, which is what the per-tile FIFO
// guarantee to listeners rests on.
package bus

import (
	"context"
	"errors"
	"strconv"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

// Subject layout. clicks.tile.* subjects belong to the durable CLICKS stream;
// clicks.all is plain pub/sub.
const (
	ClickSubjectPrefix = "clicks.tile."
	UpdatesSubject     = "clicks.all"
	StreamName         = "CLICKS"
)

// ErrUnavailable reports that the bus rejected or could not accept an
// operation. Publishes after a committed store write surface this as a
// warning, not a request failure.
var ErrUnavailable = errors.New("bus unavailable")

// ClickSubject returns the per-tile subject for a click.
func ClickSubject(tileID int32) string {
	return ClickSubjectPrefix + strconv.FormatInt(int64(tileID), 10)
}

// Subscription is a live update feed. Updates is closed when the subscription
// ends, whether by Close or by a transport failure.
type Subscription interface {
	Updates() <-chan *clickpb.UpdateNotification
	Close() error
}

// Bus is the pipeline contract implemented by NATS (fleet) and Memory
// (tests, single-node).
type Bus interface {
	// PublishClick appends the click to the durable per-tile stream.
	PublishClick(ctx context.Context, c *clickpb.Click) error

	// PublishUpdate emits a live ownership-change notification. Best-effort:
	// subscribers attached later never see it.
	PublishUpdate(ctx context.Context, u *clickpb.UpdateNotification) error

	// SubscribeUpdates attaches a live update feed starting "now".
	SubscribeUpdates(ctx context.Context) (Subscription, error)
}

// ClickHandler processes one click drained from the durable stream. A nil
// return acknowledges the message; an error schedules redelivery.
type ClickHandler func(ctx context.Context, c *clickpb.Click) error

// ClickConsumer drains the durable click stream. Implemented by NATS (durable
// pull consumer) and Memory (in-process queue).
type ClickConsumer interface {
	// ConsumeClicks processes clicks with handler until ctx is canceled.
	ConsumeClicks(ctx context.Context, handler ClickHandler) error
}

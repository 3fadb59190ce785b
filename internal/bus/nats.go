package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

const (
	// Click records older than this have long been folded into the store;
	// keeping the stream short bounds replay time for a fresh persister.
	clickStreamMaxAge = 8 * time.Hour

	fetchBatch   = 64
	fetchMaxWait = 2 * time.Second
)

// ConsumerConfig tunes the durable click-stream consumer.
type ConsumerConfig struct {
	Durable     string
	AckWait     time.Duration
	MaxDeliver  int
	Concurrency int
}

// DefaultConsumerConfig matches the persister's production settings.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Durable:     "tile-state-processor",
		AckWait:     10 * time.Second,
		MaxDeliver:  3,
		Concurrency: 8,
	}
}

// NATS implements Bus and ClickConsumer on a NATS server: JetStream for the
// durable click stream, core pub/sub for the live update feed.
type NATS struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	consumer ConsumerConfig
}

// DialNATS connects, provisions the CLICKS stream, and returns the bus.
func DialNATS(url, connName string, consumer ConsumerConfig) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name(connName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ErrorHandler(logAsyncError),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}

	streamCfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{ClickSubjectPrefix + "*"},
		MaxAge:   clickStreamMaxAge,
		Discard:  nats.DiscardOld,
	}
	if _, err := js.StreamInfo(StreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("bus: stream info: %w", err)
		}
		if _, err := js.AddStream(streamCfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("bus: create stream: %w", err)
		}
	} else if _, err := js.UpdateStream(streamCfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: update stream: %w", err)
	}

	return &NATS{nc: nc, js: js, consumer: consumer}, nil
}

// logAsyncError is the connection's async error handler. Core NATS sheds
// messages for a subscriber that stops draining; without this the gap in the
// update feed would be invisible.
func logAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		log.Printf("[bus] async error on %q: %v", sub.Subject, err)
		return
	}
	log.Printf("[bus] async error: %v", err)
}

// Close drains the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}

// PublishClick implements Bus.
func (n *NATS) PublishClick(ctx context.Context, c *clickpb.Click) error {
	if _, err := n.js.Publish(ClickSubject(c.TileID), c.Marshal(), nats.Context(ctx)); err != nil {
		return fmt.Errorf("bus: publish click: %v: %w", err, ErrUnavailable)
	}
	return nil
}

// PublishUpdate implements Bus.
func (n *NATS) PublishUpdate(_ context.Context, u *clickpb.UpdateNotification) error {
	if err := n.nc.Publish(UpdatesSubject, u.Marshal()); err != nil {
		return fmt.Errorf("bus: publish update: %v: %w", err, ErrUnavailable)
	}
	return nil
}

type natsSubscription struct {
	sub     *nats.Subscription
	raw     chan *nats.Msg
	updates chan *clickpb.UpdateNotification
	done    chan struct{}
}

func (s *natsSubscription) Updates() <-chan *clickpb.UpdateNotification {
	return s.updates
}

func (s *natsSubscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	return s.sub.Unsubscribe()
}

// SubscribeUpdates implements Bus.
func (n *NATS) SubscribeUpdates(_ context.Context) (Subscription, error) {
	raw := make(chan *nats.Msg, 4096)
	natsSub, err := n.nc.ChanSubscribe(UpdatesSubject, raw)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %v: %w", UpdatesSubject, err, ErrUnavailable)
	}

	s := &natsSubscription{
		sub:     natsSub,
		raw:     raw,
		updates: make(chan *clickpb.UpdateNotification, 1024),
		done:    make(chan struct{}),
	}
	go s.decodeLoop()
	return s, nil
}

func (s *natsSubscription) decodeLoop() {
	defer close(s.updates)
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.raw:
			u := new(clickpb.UpdateNotification)
			if err := u.Unmarshal(msg.Data); err != nil {
				log.Printf("[bus] dropping malformed update: %v", err)
				continue
			}
			select {
			case s.updates <- u:
			case <-s.done:
				return
			}
		}
	}
}

// ConsumeClicks implements ClickConsumer with a durable pull consumer.
// Malformed payloads are terminated (no redelivery can fix them); handler
// failures are NAKed for redelivery up to MaxDeliver.
func (n *NATS) ConsumeClicks(ctx context.Context, handler ClickHandler) error {
	cfg := n.consumer
	sub, err := n.js.PullSubscribe(
		ClickSubjectPrefix+"*",
		cfg.Durable,
		nats.BindStream(StreamName),
		nats.AckWait(cfg.AckWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.AckExplicit(),
	)
	if err != nil {
		return fmt.Errorf("bus: pull subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	sem := make(chan struct{}, cfg.Concurrency)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[bus] fetch error: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			go func(msg *nats.Msg) {
				defer func() { <-sem }()
				handleClickMsg(ctx, msg, handler)
			}(msg)
		}
	}
}

func handleClickMsg(ctx context.Context, msg *nats.Msg, handler ClickHandler) {
	c := new(clickpb.Click)
	if err := c.Unmarshal(msg.Data); err != nil {
		log.Printf("[bus] terminating malformed click on %s: %v", msg.Subject, err)
		if err := msg.Term(); err != nil {
			log.Printf("[bus] term failed: %v", err)
		}
		return
	}

	if err := handler(ctx, c); err != nil {
		log.Printf("[bus] click handler failed for tile %d: %v", c.TileID, err)
		if err := msg.Nak(); err != nil {
			log.Printf("[bus] nak failed: %v", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		log.Printf("[bus] ack failed: %v", err)
	}
}

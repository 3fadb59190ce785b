// Package click implements the click coordinator: the single write path that
// turns a ClickRequest into an ownership record and a broadcast notification.
package click

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/valdo404/clickplanet-go/internal/bus"
	"github.com/valdo404/clickplanet-go/internal/clickpb"
	"github.com/valdo404/clickplanet-go/internal/store"
)

// Coordinator is stateless per request; every instance in the fleet runs one.
// Cross-instance agreement on a contested tile comes from the store's
// last-writer-wins rule, not from any coordination here.
type Coordinator struct {
	store   store.TileStore
	bus     bus.Bus
	maxTile int32

	now   func() time.Time
	newID func() string

	// partialCommits counts writes whose bus publish failed: ownership is
	// real but listeners missed the edge until reconciliation.
	partialCommits atomic.Uint64
}

// Config configures a Coordinator. Now and NewID default to the wall clock
// and random UUIDs; tests override them.
type Config struct {
	MaxTile int32
	Now     func() time.Time
	NewID   func() string
}

// NewCoordinator wires the coordinator to its store and bus.
func NewCoordinator(s store.TileStore, b bus.Bus, cfg Config) *Coordinator {
	c := &Coordinator{
		store:   s,
		bus:     b,
		maxTile: cfg.MaxTile,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// PartialCommits reports how many committed writes failed to publish.
func (c *Coordinator) PartialCommits() uint64 {
	return c.partialCommits.Load()
}

// Click processes one click: validate, resolve the previous owner, write,
// publish, acknowledge. A click that would not change the owner is accepted
// but neither written nor published; its response carries the current
// timestamp and an empty click id.
func (c *Coordinator) Click(ctx context.Context, req *clickpb.ClickRequest) (*clickpb.ClickResponse, error) {
	countryID, svcErr := normalizeCountryID(req.CountryID)
	if svcErr != nil {
		return nil, svcErr
	}
	if req.TileID < 0 || req.TileID >= c.maxTile {
		return nil, InvalidArgument(fmt.Sprintf("tile_id %d outside [0, %d)", req.TileID, c.maxTile))
	}

	prev, err := c.store.Get(ctx, req.TileID)
	if err != nil {
		return nil, FromStoreError(err)
	}

	if prev != nil && prev.CountryID == countryID {
		// No-op click: same owner, nothing to write or announce.
		return &clickpb.ClickResponse{TimestampNs: prev.TimestampNs, ClickID: ""}, nil
	}

	ts := uint64(c.now().UnixNano())
	if prev != nil && ts <= prev.TimestampNs {
		// Clock regressed below the tile's last write; keep timestamps
		// strictly increasing per tile.
		ts = prev.TimestampNs + 1
	}
	clickID := c.newID()

	written, err := c.store.Put(ctx, req.TileID, countryID, ts)
	if err != nil {
		return nil, FromStoreError(err)
	}
	if written != nil && written.TimestampNs >= ts {
		// A concurrent writer committed a newer record between our read and
		// write; the store dropped ours. The winner announces its own edge.
		return &clickpb.ClickResponse{TimestampNs: ts, ClickID: clickID}, nil
	}

	c.publish(ctx, req.TileID, countryID, ts, clickID, written)

	return &clickpb.ClickResponse{TimestampNs: ts, ClickID: clickID}, nil
}

// publish emits the durable click record and the live notification. Failures
// here never fail the request: the write is already committed, the persister
// and the next reconciliation close the gap.
func (c *Coordinator) publish(ctx context.Context, tileID int32, countryID string, ts uint64, clickID string, prev *clickpb.Ownership) {
	record := &clickpb.Click{
		TileID:      tileID,
		CountryID:   countryID,
		TimestampNs: ts,
		ClickID:     clickID,
	}
	if err := c.bus.PublishClick(ctx, record); err != nil {
		c.partialCommits.Add(1)
		log.Printf("[click] partial commit: click %s for tile %d not published: %v", clickID, tileID, err)
	}

	var prevCountry string
	if prev != nil {
		prevCountry = prev.CountryID
	}
	if prevCountry == countryID {
		return
	}
	notification := &clickpb.UpdateNotification{
		TileID:            tileID,
		CountryID:         countryID,
		PreviousCountryID: prevCountry,
	}
	if err := c.bus.PublishUpdate(ctx, notification); err != nil {
		c.partialCommits.Add(1)
		log.Printf("[click] partial commit: update for tile %d not published: %v", tileID, err)
	}
}

// normalizeCountryID lowercases a two-letter ASCII country code, rejecting
// anything else.
func normalizeCountryID(raw string) (string, *ServiceError) {
	if len(raw) != 2 {
		return "", InvalidArgument(fmt.Sprintf("country_id %q must be a 2-letter code", raw))
	}
	b := []byte(raw)
	for i, ch := range b {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
			b[i] = ch + ('a' - 'A')
		default:
			return "", InvalidArgument(fmt.Sprintf("country_id %q must be ASCII letters", raw))
		}
	}
	return string(b), nil
}

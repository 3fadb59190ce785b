package store

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

// Mirrored pairs a durable TileStore with an in-process Memory accelerator.
// Reads (Get, Scan, CountByCountry) are served from memory; Put goes to the
// durable store first and is mirrored after it commits, so a crash between
// the two degrades to a cold read on restart, never to a phantom write.
type Mirrored struct {
	durable TileStore
	mem     *Memory
}

// NewMirrored builds the mirror with a full scan of the durable store. It
// must complete before the server advertises readiness.
func NewMirrored(ctx context.Context, durable TileStore) (*Mirrored, error) {
	started := time.Now()

	all, err := durable.Scan(ctx, 0, math.MaxInt32)
	if err != nil {
		return nil, fmt.Errorf("store: mirror bootstrap scan: %w", err)
	}

	mem := NewMemory()
	for _, o := range all {
		if _, err := mem.Put(ctx, int32(o.TileID), o.CountryID, o.TimestampNs); err != nil {
			return nil, err
		}
	}
	log.Printf("[store] mirror rebuilt: %d tiles in %s", len(all), time.Since(started).Round(time.Millisecond))

	return &Mirrored{durable: durable, mem: mem}, nil
}

// Get implements TileStore from the mirror.
func (s *Mirrored) Get(ctx context.Context, tileID int32) (*clickpb.Ownership, error) {
	return s.mem.Get(ctx, tileID)
}

// Put implements TileStore: durable first, mirror after.
func (s *Mirrored) Put(ctx context.Context, tileID int32, countryID string, timestampNs uint64) (*clickpb.Ownership, error) {
	prev, err := s.durable.Put(ctx, tileID, countryID, timestampNs)
	if err != nil {
		return nil, err
	}
	if _, err := s.mem.Put(ctx, tileID, countryID, timestampNs); err != nil {
		log.Printf("[store] mirror put tile %d failed: %v", tileID, err)
	}
	return prev, nil
}

// Scan implements TileStore from the mirror.
func (s *Mirrored) Scan(ctx context.Context, startTileID, endTileID int32) ([]*clickpb.Ownership, error) {
	return s.mem.Scan(ctx, startTileID, endTileID)
}

// CountByCountry implements TileStore from the mirror.
func (s *Mirrored) CountByCountry(ctx context.Context) (map[string]uint32, error) {
	return s.mem.CountByCountry(ctx)
}

// Apply mirrors an externally observed write (a click drained from the bus by
// another instance) without touching the durable store.
func (s *Mirrored) Apply(ctx context.Context, tileID int32, countryID string, timestampNs uint64) {
	if _, err := s.mem.Put(ctx, tileID, countryID, timestampNs); err != nil {
		log.Printf("[store] mirror apply tile %d failed: %v", tileID, err)
	}
}

package store

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

type tileData struct {
	countryID   string
	timestampNs uint64
}

// Memory is a fully in-process TileStore. It backs tests and serves as the
// read accelerator inside Mirrored. The tile map update is atomic per tile
// (xsync.Compute), so concurrent puts on the same tile resolve to the one
// with the newest timestamp.
type Memory struct {
	tiles     *xsync.Map[int32, tileData]
	countries *xsync.Map[string, uint32]
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		tiles:     xsync.NewMap[int32, tileData](),
		countries: xsync.NewMap[string, uint32](),
	}
}

// Get implements TileStore.
func (s *Memory) Get(_ context.Context, tileID int32) (*clickpb.Ownership, error) {
	cur, ok := s.tiles.Load(tileID)
	if !ok {
		return nil, nil
	}
	return &clickpb.Ownership{
		TileID:      uint32(tileID),
		CountryID:   cur.countryID,
		TimestampNs: cur.timestampNs,
	}, nil
}

// Put implements TileStore.
func (s *Memory) Put(_ context.Context, tileID int32, countryID string, timestampNs uint64) (*clickpb.Ownership, error) {
	var prev *clickpb.Ownership
	applied := false

	s.tiles.Compute(tileID, func(cur tileData, loaded bool) (tileData, xsync.ComputeOp) {
		if loaded {
			prev = &clickpb.Ownership{
				TileID:      uint32(tileID),
				CountryID:   cur.countryID,
				TimestampNs: cur.timestampNs,
			}
			if timestampNs <= cur.timestampNs {
				return cur, xsync.CancelOp
			}
		}
		applied = true
		return tileData{countryID: countryID, timestampNs: timestampNs}, xsync.UpdateOp
	})

	if applied {
		var prevCountry string
		if prev != nil {
			prevCountry = prev.CountryID
		}
		if prevCountry != countryID {
			s.adjustCount(countryID, 1)
			if prevCountry != "" {
				s.adjustCount(prevCountry, -1)
			}
		}
	}
	return prev, nil
}

func (s *Memory) adjustCount(countryID string, delta int32) {
	s.countries.Compute(countryID, func(cur uint32, _ bool) (uint32, xsync.ComputeOp) {
		next := int64(cur) + int64(delta)
		if next <= 0 {
			return 0, xsync.DeleteOp
		}
		return uint32(next), xsync.UpdateOp
	})
}

// Scan implements TileStore.
func (s *Memory) Scan(_ context.Context, startTileID, endTileID int32) ([]*clickpb.Ownership, error) {
	var out []*clickpb.Ownership
	s.tiles.Range(func(tileID int32, cur tileData) bool {
		if tileID >= startTileID && tileID < endTileID {
			out = append(out, &clickpb.Ownership{
				TileID:      uint32(tileID),
				CountryID:   cur.countryID,
				TimestampNs: cur.timestampNs,
			})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TileID < out[j].TileID })
	return out, nil
}

// CountByCountry implements TileStore.
func (s *Memory) CountByCountry(_ context.Context) (map[string]uint32, error) {
	out := make(map[string]uint32)
	s.countries.Range(func(countryID string, score uint32) bool {
		if score > 0 {
			out[countryID] = score
		}
		return true
	})
	return out, nil
}

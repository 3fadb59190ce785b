// Package query serves the read side: batch ownership reads, the full dump,
// and the country leaderboard.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maypok86/otter"

	"github.com/valdo404/clickplanet-go/internal/click"
	"github.com/valdo404/clickplanet-go/internal/clickpb"
	"github.com/valdo404/clickplanet-go/internal/store"
)

const (
	defaultLeaderboardTTL = 5 * time.Second

	leaderboardKey = "leaderboard"
)

// Engine answers reads against the ownership store. The leaderboard is served
// from a short-TTL cache: it aggregates every country and tolerates
// seconds-old data, so recomputing it per request buys nothing.
type Engine struct {
	store    store.TileStore
	maxTile  int32
	maxBatch int32

	leaderboard otter.Cache[string, []*clickpb.LeaderboardEntry]
}

// Config configures an Engine. A zero LeaderboardTTL picks the default.
type Config struct {
	MaxTile        int32
	MaxBatch       int32
	LeaderboardTTL time.Duration
}

// NewEngine creates an Engine over the given store.
func NewEngine(s store.TileStore, cfg Config) *Engine {
	ttl := cfg.LeaderboardTTL
	if ttl <= 0 {
		ttl = defaultLeaderboardTTL
	}
	cache, err := otter.MustBuilder[string, []*clickpb.LeaderboardEntry](16).
		Cost(func(_ string, _ []*clickpb.LeaderboardEntry) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		panic("query: failed to create leaderboard cache: " + err.Error())
	}
	return &Engine{
		store:       s,
		maxTile:     cfg.MaxTile,
		maxBatch:    cfg.MaxBatch,
		leaderboard: cache,
	}
}

// Batch returns the ownerships of owned tiles in [start, end), ascending by
// tile id. Unowned tiles are absent from the result.
func (e *Engine) Batch(ctx context.Context, start, end int32) (*clickpb.OwnershipState, error) {
	if start < 0 || end < start {
		return nil, click.InvalidArgument(fmt.Sprintf("range [%d, %d) is not a valid tile range", start, end))
	}
	if end-start > e.maxBatch {
		return nil, click.InvalidArgument(fmt.Sprintf("range width %d exceeds the batch limit %d", end-start, e.maxBatch))
	}
	if end > e.maxTile {
		end = e.maxTile
	}

	ownerships, err := e.store.Scan(ctx, start, end)
	if err != nil {
		return nil, click.FromStoreError(err)
	}
	return &clickpb.OwnershipState{Ownerships: ownerships}, nil
}

// All returns every owned tile. Bootstrap reads only; clients follow the live
// feed afterwards.
func (e *Engine) All(ctx context.Context) (*clickpb.OwnershipState, error) {
	ownerships, err := e.store.Scan(ctx, 0, e.maxTile)
	if err != nil {
		return nil, click.FromStoreError(err)
	}
	return &clickpb.OwnershipState{Ownerships: ownerships}, nil
}

// Leaderboard returns per-country tile counts, highest first; ties break on
// country id ascending so the order is total.
func (e *Engine) Leaderboard(ctx context.Context) (*clickpb.LeaderboardResponse, error) {
	if entries, ok := e.leaderboard.Get(leaderboardKey); ok {
		return &clickpb.LeaderboardResponse{Entries: entries}, nil
	}

	counts, err := e.store.CountByCountry(ctx)
	if err != nil {
		return nil, click.FromStoreError(err)
	}

	entries := make([]*clickpb.LeaderboardEntry, 0, len(counts))
	for countryID, score := range counts {
		entries = append(entries, &clickpb.LeaderboardEntry{CountryID: countryID, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].CountryID < entries[j].CountryID
	})

	e.leaderboard.Set(leaderboardKey, entries)
	return &clickpb.LeaderboardResponse{Entries: entries}, nil
}

// InvalidateLeaderboard discards the cached leaderboard. Tests and the
// reconcile job use it after rewriting counts.
func (e *Engine) InvalidateLeaderboard() {
	e.leaderboard.Delete(leaderboardKey)
}

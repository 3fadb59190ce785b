package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/valdo404/clickplanet-go/internal/click"
	"github.com/valdo404/clickplanet-go/internal/store"
)

func seededEngine(t *testing.T, cfg Config) (*Engine, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	ctx := context.Background()
	claims := map[int32]string{0: "fr", 3: "fr", 4: "de", 7: "jp", 9: "de", 12: "fr"}
	for tile, country := range claims {
		if _, err := s.Put(ctx, tile, country, uint64(tile)+1); err != nil {
			t.Fatal(err)
		}
	}
	return NewEngine(s, cfg), s
}

func TestBatchRangeValidation(t *testing.T) {
	e, _ := seededEngine(t, Config{MaxTile: 100, MaxBatch: 10})
	ctx := context.Background()

	cases := []struct {
		name       string
		start, end int32
	}{
		{"negative start", -1, 5},
		{"end before start", 8, 3},
		{"width over limit", 0, 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Batch(ctx, tc.start, tc.end)
			var svcErr *click.ServiceError
			if !errors.As(err, &svcErr) || svcErr.Code != click.CodeInvalidArgument {
				t.Fatalf("got %v, want %s", err, click.CodeInvalidArgument)
			}
		})
	}
}

func TestBatchReturnsOwnedTilesInRange(t *testing.T) {
	e, _ := seededEngine(t, Config{MaxTile: 100, MaxBatch: 10})

	state, err := e.Batch(context.Background(), 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		tile    uint32
		country string
	}{{3, "fr"}, {4, "de"}, {7, "jp"}, {9, "de"}}
	if len(state.Ownerships) != len(want) {
		t.Fatalf("got %d ownerships, want %d", len(state.Ownerships), len(want))
	}
	for i, w := range want {
		o := state.Ownerships[i]
		if o.TileID != w.tile || o.CountryID != w.country {
			t.Fatalf("ownership %d: got tile %d country %s", i, o.TileID, o.CountryID)
		}
	}
}

func TestBatchPartitionsCoverTheFullRange(t *testing.T) {
	e, _ := seededEngine(t, Config{MaxTile: 100, MaxBatch: 10})
	ctx := context.Background()

	all, err := e.All(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var union []uint32
	for start := int32(0); start < 100; start += 10 {
		state, err := e.Batch(ctx, start, start+10)
		if err != nil {
			t.Fatal(err)
		}
		for _, o := range state.Ownerships {
			union = append(union, o.TileID)
		}
	}

	if len(union) != len(all.Ownerships) {
		t.Fatalf("union has %d tiles, full dump has %d", len(union), len(all.Ownerships))
	}
	for i, o := range all.Ownerships {
		if union[i] != o.TileID {
			t.Fatalf("tile %d: union %d, dump %d", i, union[i], o.TileID)
		}
	}
}

func TestBatchClampsEndToDomain(t *testing.T) {
	e, _ := seededEngine(t, Config{MaxTile: 10, MaxBatch: 10})

	state, err := e.Batch(context.Background(), 5, 15)
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range state.Ownerships {
		if o.TileID >= 10 {
			t.Fatalf("tile %d beyond the domain", o.TileID)
		}
	}
}

func TestLeaderboardOrderingAndTotals(t *testing.T) {
	e, _ := seededEngine(t, Config{MaxTile: 100, MaxBatch: 100})

	resp, err := e.Leaderboard(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// fr holds 3 tiles, de 2, jp 1: descending score, country id breaking ties.
	want := []struct {
		country string
		score   uint32
	}{{"fr", 3}, {"de", 2}, {"jp", 1}}
	if len(resp.Entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(resp.Entries), len(want))
	}
	var total uint32
	for i, w := range want {
		entry := resp.Entries[i]
		if entry.CountryID != w.country || entry.Score != w.score {
			t.Fatalf("entry %d: got %s=%d, want %s=%d", i, entry.CountryID, entry.Score, w.country, w.score)
		}
		total += entry.Score
	}

	all, err := e.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if int(total) != len(all.Ownerships) {
		t.Fatalf("leaderboard total %d, owned tiles %d", total, len(all.Ownerships))
	}
}

func TestLeaderboardTieBreaksOnCountryID(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	s.Put(ctx, 1, "zz", 1)
	s.Put(ctx, 2, "aa", 1)
	e := NewEngine(s, Config{MaxTile: 10, MaxBatch: 10})

	resp, err := e.Leaderboard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Entries[0].CountryID != "aa" || resp.Entries[1].CountryID != "zz" {
		t.Fatalf("tie order: got %s then %s", resp.Entries[0].CountryID, resp.Entries[1].CountryID)
	}
}

func TestLeaderboardServesCachedCopy(t *testing.T) {
	e, s := seededEngine(t, Config{MaxTile: 100, MaxBatch: 100, LeaderboardTTL: time.Minute})
	ctx := context.Background()

	first, err := e.Leaderboard(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// New claims inside the TTL are not visible until invalidation.
	s.Put(ctx, 50, "us", 100)
	cached, err := e.Leaderboard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached.Entries) != len(first.Entries) {
		t.Fatalf("cached read picked up %d entries, want %d", len(cached.Entries), len(first.Entries))
	}

	e.InvalidateLeaderboard()
	fresh, err := e.Leaderboard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh.Entries) != len(first.Entries)+1 {
		t.Fatalf("fresh read has %d entries, want %d", len(fresh.Entries), len(first.Entries)+1)
	}
}

package store

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryPutGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	prev, err := s.Put(ctx, 1337, "fr", 100)
	if err != nil {
		t.Fatal(err)
	}
	if prev != nil {
		t.Fatalf("prev for fresh claim: got %+v, want nil", prev)
	}

	o, err := s.Get(ctx, 1337)
	if err != nil {
		t.Fatal(err)
	}
	if o == nil || o.CountryID != "fr" || o.TimestampNs != 100 || o.TileID != 1337 {
		t.Fatalf("get: got %+v", o)
	}

	if o, _ := s.Get(ctx, 42); o != nil {
		t.Fatalf("unowned tile: got %+v, want nil", o)
	}
}

func TestMemoryOverwriteReturnsPrevious(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.Put(ctx, 7, "ru", 100)
	prev, err := s.Put(ctx, 7, "fr", 200)
	if err != nil {
		t.Fatal(err)
	}
	if prev == nil || prev.CountryID != "ru" || prev.TimestampNs != 100 {
		t.Fatalf("prev: got %+v, want ru@100", prev)
	}

	o, _ := s.Get(ctx, 7)
	if o.CountryID != "fr" {
		t.Fatalf("owner after overwrite: got %s, want fr", o.CountryID)
	}
}

func TestMemoryStalePutDropped(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.Put(ctx, 7, "fr", 200)
	prev, err := s.Put(ctx, 7, "ru", 150)
	if err != nil {
		t.Fatal(err)
	}
	if prev == nil || prev.CountryID != "fr" {
		t.Fatalf("prev for stale put: got %+v, want fr", prev)
	}

	o, _ := s.Get(ctx, 7)
	if o.CountryID != "fr" || o.TimestampNs != 200 {
		t.Fatalf("stale put must not win: got %+v", o)
	}

	// Equal timestamp is stale too.
	s.Put(ctx, 7, "de", 200)
	o, _ = s.Get(ctx, 7)
	if o.CountryID != "fr" {
		t.Fatalf("equal-timestamp put must not win: got %+v", o)
	}
}

func TestMemoryScanHalfOpenAscending(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for _, id := range []int32{5, 3, 9, 4, 12} {
		s.Put(ctx, id, "fr", uint64(id))
	}

	got, err := s.Scan(ctx, 3, 9)
	if err != nil {
		t.Fatal(err)
	}
	wantIDs := []uint32{3, 4, 5}
	if len(got) != len(wantIDs) {
		t.Fatalf("scan len: got %d, want %d", len(got), len(wantIDs))
	}
	for i, o := range got {
		if o.TileID != wantIDs[i] {
			t.Fatalf("scan order: got tile %d at %d, want %d", o.TileID, i, wantIDs[i])
		}
	}
}

func TestMemoryCountByCountry(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.Put(ctx, 1, "fr", 10)
	s.Put(ctx, 2, "fr", 10)
	s.Put(ctx, 3, "de", 10)
	// Tile 2 flips to de.
	s.Put(ctx, 2, "de", 20)

	counts, err := s.CountByCountry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["fr"] != 1 || counts["de"] != 2 {
		t.Fatalf("counts: got %v, want fr=1 de=2", counts)
	}

	// fr loses its last tile: it disappears from the map.
	s.Put(ctx, 1, "de", 30)
	counts, _ = s.CountByCountry(ctx)
	if _, ok := counts["fr"]; ok {
		t.Fatalf("fr should be absent, got %v", counts)
	}
	if counts["de"] != 3 {
		t.Fatalf("de: got %d, want 3", counts["de"])
	}
}

func TestMemoryConcurrentPutsSameTile(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Put(ctx, 1, "fr", uint64(100+i))
		}(i)
	}
	wg.Wait()

	o, _ := s.Get(ctx, 1)
	if o == nil || o.TimestampNs != 163 {
		t.Fatalf("newest timestamp must win: got %+v, want ts=163", o)
	}

	counts, _ := s.CountByCountry(ctx)
	if counts["fr"] != 1 {
		t.Fatalf("count after racing puts: got %v, want fr=1", counts)
	}
}

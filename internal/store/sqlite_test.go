package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "ownership.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLitePutGetScan(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	prev, err := s.Put(ctx, 10, "fr", 100)
	if err != nil {
		t.Fatal(err)
	}
	if prev != nil {
		t.Fatalf("prev for fresh claim: got %+v", prev)
	}
	s.Put(ctx, 11, "de", 100)
	s.Put(ctx, 12, "fr", 100)

	o, err := s.Get(ctx, 11)
	if err != nil {
		t.Fatal(err)
	}
	if o == nil || o.CountryID != "de" {
		t.Fatalf("get: got %+v", o)
	}

	got, err := s.Scan(ctx, 10, 12)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].TileID != 10 || got[1].TileID != 11 {
		t.Fatalf("scan [10,12): got %+v", got)
	}
}

func TestSQLiteStalePutDropped(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	s.Put(ctx, 5, "fr", 200)
	prev, err := s.Put(ctx, 5, "ru", 200)
	if err != nil {
		t.Fatal(err)
	}
	if prev == nil || prev.CountryID != "fr" {
		t.Fatalf("prev: got %+v, want fr", prev)
	}
	o, _ := s.Get(ctx, 5)
	if o.CountryID != "fr" {
		t.Fatalf("stale put must not win: got %+v", o)
	}
}

func TestSQLiteCountByCountry(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	s.Put(ctx, 1, "fr", 10)
	s.Put(ctx, 2, "fr", 10)
	s.Put(ctx, 3, "jp", 10)

	counts, err := s.CountByCountry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["fr"] != 2 || counts["jp"] != 1 {
		t.Fatalf("counts: got %v", counts)
	}
}

func TestSQLiteReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ownership.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Put(ctx, 77, "fr", 42)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	o, err := s2.Get(ctx, 77)
	if err != nil {
		t.Fatal(err)
	}
	if o == nil || o.CountryID != "fr" || o.TimestampNs != 42 {
		t.Fatalf("after reopen: got %+v", o)
	}
}

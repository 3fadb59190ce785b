// Package store implements the ownership store: a durable tile_id → ownership
// map with point reads, last-writer-wins puts, range scans, and per-country
// counts. Backends: Redis (fleet deployments), SQLite (single node), and an
// in-memory mirror used as a read accelerator in front of either.
package store

import (
	"context"
	"errors"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

// ErrUnavailable reports that the backing store returned an error or timed
// out. The in-flight operation did not commit.
var ErrUnavailable = errors.New("store unavailable")

// ErrBusy reports that the backend's connection pool was exhausted before the
// caller's deadline. Retriable.
var ErrBusy = errors.New("store busy")

// TileStore is the ownership store contract.
//
// Put applies last-writer-wins semantics keyed on timestamp: a put whose
// timestampNs is not newer than the current record leaves the record
// unchanged. Either way the record that was current before the call is
// returned (nil if the tile was unowned), which is what makes replays from
// the click stream idempotent.
type TileStore interface {
	// Get returns the current ownership of the tile, or (nil, nil) if the
	// tile is unowned.
	Get(ctx context.Context, tileID int32) (*clickpb.Ownership, error)

	// Put records countryID as the owner of the tile at timestampNs and
	// returns the previous ownership. Stale puts (timestampNs not newer than
	// the current record) are dropped and the current record is returned.
	Put(ctx context.Context, tileID int32, countryID string, timestampNs uint64) (*clickpb.Ownership, error)

	// Scan returns every owned tile in the half-open range
	// [startTileID, endTileID) in ascending tile order.
	Scan(ctx context.Context, startTileID, endTileID int32) ([]*clickpb.Ownership, error)

	// CountByCountry returns the number of tiles currently owned by each
	// country. Countries with no tiles are absent.
	CountByCountry(ctx context.Context) (map[string]uint32, error)
}

// PutClick replays a Click record into s. Used by the persister when draining
// the click stream; idempotent thanks to Put's stale-drop rule.
func PutClick(ctx context.Context, s TileStore, c *clickpb.Click) error {
	_, err := s.Put(ctx, c.TileID, c.CountryID, c.TimestampNs)
	return err
}

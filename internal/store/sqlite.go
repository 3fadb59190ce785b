package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the embedded single-node TileStore. Same contract as Redis, no
// external service: handy for development and the integration tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the ownership database at path and applies
// migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: exec %q on %s: %w", p, path, err)
		}
	}

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrate: init source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migrate: init db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrate: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate: up: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func wrapSQLiteErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	return fmt.Errorf("store: %s: %v: %w", op, err, ErrUnavailable)
}

// Get implements TileStore.
func (s *SQLite) Get(ctx context.Context, tileID int32) (*clickpb.Ownership, error) {
	var (
		countryID   string
		timestampNs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT country_id, timestamp_ns FROM ownerships WHERE tile_id = ?`, tileID,
	).Scan(&countryID, &timestampNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQLiteErr("get", err)
	}
	return &clickpb.Ownership{
		TileID:      uint32(tileID),
		CountryID:   countryID,
		TimestampNs: uint64(timestampNs),
	}, nil
}

// Put implements TileStore. The stale check and the upsert share one
// transaction; SetMaxOpenConns(1) serializes writers.
func (s *SQLite) Put(ctx context.Context, tileID int32, countryID string, timestampNs uint64) (*clickpb.Ownership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapSQLiteErr("put", err)
	}
	defer tx.Rollback()

	var prev *clickpb.Ownership
	var prevCountry string
	var prevTs int64
	err = tx.QueryRowContext(ctx,
		`SELECT country_id, timestamp_ns FROM ownerships WHERE tile_id = ?`, tileID,
	).Scan(&prevCountry, &prevTs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Unowned tile.
	case err != nil:
		return nil, wrapSQLiteErr("put", err)
	default:
		prev = &clickpb.Ownership{
			TileID:      uint32(tileID),
			CountryID:   prevCountry,
			TimestampNs: uint64(prevTs),
		}
		if timestampNs <= uint64(prevTs) {
			return prev, nil
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ownerships (tile_id, country_id, timestamp_ns) VALUES (?, ?, ?)
		 ON CONFLICT (tile_id) DO UPDATE SET country_id = excluded.country_id, timestamp_ns = excluded.timestamp_ns`,
		tileID, countryID, int64(timestampNs),
	)
	if err != nil {
		return nil, wrapSQLiteErr("put", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapSQLiteErr("put", err)
	}
	return prev, nil
}

// Scan implements TileStore.
func (s *SQLite) Scan(ctx context.Context, startTileID, endTileID int32) ([]*clickpb.Ownership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tile_id, country_id, timestamp_ns FROM ownerships
		 WHERE tile_id >= ? AND tile_id < ? ORDER BY tile_id ASC`,
		startTileID, endTileID,
	)
	if err != nil {
		return nil, wrapSQLiteErr("scan", err)
	}
	defer rows.Close()

	var out []*clickpb.Ownership
	for rows.Next() {
		var (
			tileID      int64
			countryID   string
			timestampNs int64
		)
		if err := rows.Scan(&tileID, &countryID, &timestampNs); err != nil {
			return nil, wrapSQLiteErr("scan", err)
		}
		out = append(out, &clickpb.Ownership{
			TileID:      uint32(tileID),
			CountryID:   countryID,
			TimestampNs: uint64(timestampNs),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLiteErr("scan", err)
	}
	return out, nil
}

// CountByCountry implements TileStore.
func (s *SQLite) CountByCountry(ctx context.Context) (map[string]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT country_id, COUNT(*) FROM ownerships GROUP BY country_id`,
	)
	if err != nil {
		return nil, wrapSQLiteErr("count", err)
	}
	defer rows.Close()

	out := make(map[string]uint32)
	for rows.Next() {
		var (
			countryID string
			n         int64
		)
		if err := rows.Scan(&countryID, &n); err != nil {
			return nil, wrapSQLiteErr("count", err)
		}
		if n > 0 {
			out[countryID] = uint32(n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLiteErr("count", err)
	}
	return out, nil
}

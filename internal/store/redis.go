package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

const (
	ownershipKeyPrefix    = "ownership:"
	countryCountKeyPrefix = "country_count:"

	// directScanMaxWidth caps the range width served by a keyed MGET; wider
	// ranges fall back to a full keyspace SCAN.
	directScanMaxWidth = 1 << 16

	// putRetries bounds the optimistic WATCH/MULTI retry loop on a
	// contended tile.
	putRetries = 8
)

// Redis is the fleet TileStore: one ownership:<tile_id> key per tile holding
// the protobuf-encoded Ownership, plus country_count:<country_id> integers
// maintained with the previous-owner diff on every put.
type Redis struct {
	client *redis.Client
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	URL      string
	PoolSize int
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// Close releases the connection pool.
func (s *Redis) Close() error {
	return s.client.Close()
}

func ownershipKey(tileID int32) string {
	return ownershipKeyPrefix + strconv.FormatInt(int64(tileID), 10)
}

func countryCountKey(countryID string) string {
	return countryCountKeyPrefix + countryID
}

func wrapRedisErr(op string, err error) error {
	if errors.Is(err, redis.ErrPoolTimeout) {
		return fmt.Errorf("store: %s: %w", op, ErrBusy)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	return fmt.Errorf("store: %s: %v: %w", op, err, ErrUnavailable)
}

// Get implements TileStore.
func (s *Redis) Get(ctx context.Context, tileID int32) (*clickpb.Ownership, error) {
	raw, err := s.client.Get(ctx, ownershipKey(tileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapRedisErr("get", err)
	}
	return decodeOwnership(tileID, raw)
}

func decodeOwnership(tileID int32, raw []byte) (*clickpb.Ownership, error) {
	o := new(clickpb.Ownership)
	if err := o.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("store: tile %d: corrupt ownership record: %w", tileID, err)
	}
	return o, nil
}

// Put implements TileStore. The read-check-write is an optimistic WATCH/MULTI
// transaction on the tile key, retried on contention; the count diff rides in
// the same MULTI so the secondary index never drifts from a committed put.
func (s *Redis) Put(ctx context.Context, tileID int32, countryID string, timestampNs uint64) (*clickpb.Ownership, error) {
	key := ownershipKey(tileID)
	var prev *clickpb.Ownership

	txf := func(tx *redis.Tx) error {
		prev = nil
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			prev, err = decodeOwnership(tileID, raw)
			if err != nil {
				return err
			}
			if timestampNs <= prev.TimestampNs {
				// Stale put: keep the current record.
				return nil
			}
		}

		next := &clickpb.Ownership{
			TileID:      uint32(tileID),
			CountryID:   countryID,
			TimestampNs: timestampNs,
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next.Marshal(), 0)
			if prev == nil {
				pipe.IncrBy(ctx, countryCountKey(countryID), 1)
			} else if prev.CountryID != countryID {
				pipe.IncrBy(ctx, countryCountKey(countryID), 1)
				pipe.DecrBy(ctx, countryCountKey(prev.CountryID), 1)
			}
			return nil
		})
		return err
	}

	for i := 0; i < putRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return prev, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, wrapRedisErr("put", err)
	}
	return nil, fmt.Errorf("store: put tile %d: transaction contention: %w", tileID, ErrUnavailable)
}

// Scan implements TileStore.
func (s *Redis) Scan(ctx context.Context, startTileID, endTileID int32) ([]*clickpb.Ownership, error) {
	if endTileID <= startTileID {
		return nil, nil
	}
	if int64(endTileID)-int64(startTileID) <= directScanMaxWidth {
		return s.scanDirect(ctx, startTileID, endTileID)
	}
	return s.scanKeyspace(ctx, startTileID, endTileID)
}

// scanDirect fetches the range with chunked MGETs over the dense id space.
func (s *Redis) scanDirect(ctx context.Context, startTileID, endTileID int32) ([]*clickpb.Ownership, error) {
	const chunk = 2048
	var out []*clickpb.Ownership

	for lo := startTileID; lo < endTileID; lo += chunk {
		hi := lo + chunk
		if hi > endTileID {
			hi = endTileID
		}
		keys := make([]string, 0, hi-lo)
		for id := lo; id < hi; id++ {
			keys = append(keys, ownershipKey(id))
		}

		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, wrapRedisErr("scan", err)
		}
		for i, v := range vals {
			if v == nil {
				continue
			}
			raw, ok := v.(string)
			if !ok {
				continue
			}
			o, err := decodeOwnership(lo+int32(i), []byte(raw))
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// scanKeyspace walks ownership:* with SCAN and filters on the range. Used for
// the full dump, where walking only the owned keys beats touching the whole
// id space.
func (s *Redis) scanKeyspace(ctx context.Context, startTileID, endTileID int32) ([]*clickpb.Ownership, error) {
	var ids []int32

	iter := s.client.Scan(ctx, 0, ownershipKeyPrefix+"*", 1024).Iterator()
	for iter.Next(ctx) {
		idStr := strings.TrimPrefix(iter.Val(), ownershipKeyPrefix)
		id, err := strconv.ParseInt(idStr, 10, 32)
		if err != nil {
			log.Printf("[store] skipping malformed ownership key %q", iter.Val())
			continue
		}
		if int32(id) >= startTileID && int32(id) < endTileID {
			ids = append(ids, int32(id))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, wrapRedisErr("scan", err)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	const chunk = 2048
	out := make([]*clickpb.Ownership, 0, len(ids))
	for lo := 0; lo < len(ids); lo += chunk {
		hi := lo + chunk
		if hi > len(ids) {
			hi = len(ids)
		}
		keys := make([]string, 0, hi-lo)
		for _, id := range ids[lo:hi] {
			keys = append(keys, ownershipKey(id))
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, wrapRedisErr("scan", err)
		}
		for i, v := range vals {
			if v == nil {
				continue // deleted between SCAN and MGET
			}
			raw, ok := v.(string)
			if !ok {
				continue
			}
			o, err := decodeOwnership(ids[lo+i], []byte(raw))
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// CountByCountry implements TileStore, reading the country_count secondary
// index.
func (s *Redis) CountByCountry(ctx context.Context) (map[string]uint32, error) {
	out := make(map[string]uint32)

	iter := s.client.Scan(ctx, 0, countryCountKeyPrefix+"*", 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapRedisErr("count", err)
	}
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapRedisErr("count", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out[strings.TrimPrefix(keys[i], countryCountKeyPrefix)] = uint32(n)
	}
	return out, nil
}

// Recount rebuilds every country_count key from a full ownership scan. Wired
// to a cron schedule so persister replays or crashes between the SET and the
// count diff cannot let the index drift forever.
func (s *Redis) Recount(ctx context.Context) error {
	ownerships, err := s.scanKeyspace(ctx, 0, 1<<31-1)
	if err != nil {
		return err
	}
	counts := make(map[string]uint32)
	for _, o := range ownerships {
		counts[o.CountryID]++
	}

	staleKeys := []string{}
	iter := s.client.Scan(ctx, 0, countryCountKeyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		cc := strings.TrimPrefix(iter.Val(), countryCountKeyPrefix)
		if _, ok := counts[cc]; !ok {
			staleKeys = append(staleKeys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return wrapRedisErr("recount", err)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for cc, n := range counts {
			pipe.Set(ctx, countryCountKey(cc), int64(n), 0)
		}
		if len(staleKeys) > 0 {
			pipe.Del(ctx, staleKeys...)
		}
		return nil
	})
	if err != nil {
		return wrapRedisErr("recount", err)
	}
	log.Printf("[store] recount complete: %d countries, %d stale keys removed", len(counts), len(staleKeys))
	return nil
}

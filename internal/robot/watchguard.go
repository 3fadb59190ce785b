// Package robot implements the country watchguard: an external client that
// keeps a target country's tiles claimed for a wanted country. It exercises
// only the public API, so the server must stay correct under whatever load it
// produces.
package robot

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
	"github.com/valdo404/clickplanet-go/internal/scanloop"
)

const (
	defaultSweepInterval = 2 * time.Minute
	defaultSweepJitter   = 15 * time.Second
	defaultClickRate     = rate.Limit(32)
	defaultClickBurst    = 64

	claimTimeout     = 5 * time.Second
	claimConcurrency = 4
)

// WatchguardConfig configures a Watchguard.
type WatchguardConfig struct {
	Client        API
	Tiles         []int32 // the target country's tile set
	TargetCountry string
	WantedCountry string

	// SweepInterval is the cadence of the full reclaim pass. Zero picks the
	// default.
	SweepInterval time.Duration

	// ClickRate and ClickBurst bound the compensating click rate. Zero picks
	// the defaults.
	ClickRate  rate.Limit
	ClickBurst int
}

// Watchguard watches the live feed for unauthorized changes on its tile set
// and reclaims them, plus a periodic sweep to catch anything the feed missed.
type Watchguard struct {
	client        API
	tiles         map[int32]struct{}
	targetCountry string
	wantedCountry string
	sweepInterval time.Duration
	sweepJitter   time.Duration
	limiter       *rate.Limiter

	// inflight dedupes claims: a tile being reclaimed right now is not
	// reclaimed again however many notifications it produces.
	inflight *xsync.Map[int32, struct{}]

	reclaimed atomic.Uint64
}

// NewWatchguard creates a Watchguard.
func NewWatchguard(cfg WatchguardConfig) *Watchguard {
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	jitter := defaultSweepJitter
	if jitter > sweep/2 {
		jitter = sweep / 2
	}
	clickRate := cfg.ClickRate
	if clickRate <= 0 {
		clickRate = defaultClickRate
	}
	burst := cfg.ClickBurst
	if burst <= 0 {
		burst = defaultClickBurst
	}

	tiles := make(map[int32]struct{}, len(cfg.Tiles))
	for _, tile := range cfg.Tiles {
		tiles[tile] = struct{}{}
	}
	return &Watchguard{
		client:        cfg.Client,
		tiles:         tiles,
		targetCountry: cfg.TargetCountry,
		wantedCountry: cfg.WantedCountry,
		sweepInterval: sweep,
		sweepJitter:   jitter,
		limiter:       rate.NewLimiter(clickRate, burst),
		inflight:      xsync.NewMap[int32, struct{}](),
	}
}

// Reclaimed returns the number of compensating clicks issued.
func (w *Watchguard) Reclaimed() uint64 { return w.reclaimed.Load() }

// Run watches and sweeps until ctx ends.
func (w *Watchguard) Run(ctx context.Context) error {
	log.Printf("[robot] watchguard started: target %s, wanted %s, %d tiles",
		w.targetCountry, w.wantedCountry, len(w.tiles))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanloop.Run(ctx, w.sweepInterval, w.sweepJitter, w.sweep)
	}()

	// An immediate first sweep puts the tile set right before the first
	// scheduled pass.
	w.sweep(ctx)
	w.monitor(ctx)

	wg.Wait()
	return ctx.Err()
}

// monitor filters the live feed down to hostile changes on the watched set
// and reclaims each one.
func (w *Watchguard) monitor(ctx context.Context) {
	updates := w.client.Listen(ctx)
	sem := make(chan struct{}, claimConcurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for u := range updates {
		if _, watched := w.tiles[u.TileID]; !watched || u.CountryID == w.wantedCountry {
			continue
		}
		log.Printf("[robot] tile %d taken by %s (was %s), reclaiming", u.TileID, u.CountryID, u.PreviousCountryID)

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func(tileID int32) {
			defer wg.Done()
			defer func() { <-sem }()
			w.claim(ctx, tileID)
		}(u.TileID)
	}
}

// sweep reclaims every watched tile not currently held by the wanted country.
func (w *Watchguard) sweep(ctx context.Context) {
	state, err := w.client.Ownerships(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[robot] sweep: ownership dump failed: %v", err)
		}
		return
	}

	toClaim := w.tilesToClaim(state)
	if len(toClaim) == 0 {
		return
	}
	log.Printf("[robot] sweep: reclaiming %d tiles", len(toClaim))

	sem := make(chan struct{}, claimConcurrency)
	var wg sync.WaitGroup
	for _, tileID := range toClaim {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(tileID int32) {
			defer wg.Done()
			defer func() { <-sem }()
			w.claim(ctx, tileID)
		}(tileID)
	}
	wg.Wait()
}

// tilesToClaim returns the watched tiles whose current owner is not the
// wanted country; unowned watched tiles count too.
func (w *Watchguard) tilesToClaim(state *clickpb.OwnershipState) []int32 {
	owners := make(map[int32]string, len(state.Ownerships))
	for _, o := range state.Ownerships {
		owners[int32(o.TileID)] = o.CountryID
	}
	var toClaim []int32
	for tileID := range w.tiles {
		if owners[tileID] != w.wantedCountry {
			toClaim = append(toClaim, tileID)
		}
	}
	return toClaim
}

func (w *Watchguard) claim(ctx context.Context, tileID int32) {
	if _, loaded := w.inflight.LoadOrStore(tileID, struct{}{}); loaded {
		return
	}
	defer w.inflight.Delete(tileID)

	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()
	if _, err := w.client.Click(claimCtx, tileID, w.wantedCountry); err != nil {
		if ctx.Err() == nil {
			log.Printf("[robot] failed to claim tile %d: %v", tileID, err)
		}
		return
	}
	w.reclaimed.Add(1)
}

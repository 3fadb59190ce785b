// clickplanetd is the game server: it ingests clicks, keeps the ownership
// state, and fans updates out to listeners.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/valdo404/clickplanet-go/internal/api"
	"github.com/valdo404/clickplanet-go/internal/buildinfo"
	"github.com/valdo404/clickplanet-go/internal/bus"
	"github.com/valdo404/clickplanet-go/internal/click"
	"github.com/valdo404/clickplanet-go/internal/config"
	"github.com/valdo404/clickplanet-go/internal/hub"
	"github.com/valdo404/clickplanet-go/internal/query"
	"github.com/valdo404/clickplanet-go/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	log.Printf("clickplanetd %s (%s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer bootCancel()

	tileStore, recount, closeStore, err := buildStore(bootCtx, envCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	eventBus, closeBus, err := buildBus(envCfg)
	if err != nil {
		return err
	}
	defer closeBus()

	coordinator := click.NewCoordinator(tileStore, eventBus, click.Config{
		MaxTile: int32(envCfg.MaxTile),
	})
	engine := query.NewEngine(tileStore, query.Config{
		MaxTile:        int32(envCfg.MaxTile),
		MaxBatch:       int32(envCfg.MaxBatch),
		LeaderboardTTL: envCfg.LeaderboardTTL,
	})

	broadcastHub := hub.New(hub.Config{
		Bus:           eventBus,
		SessionBuffer: envCfg.SessionBuffer,
		Shards:        envCfg.HubShards,
	})
	broadcastHub.Start()
	defer broadcastHub.Stop()

	// Periodic count reconciliation: rebuilds the per-country counters from
	// the ownership keys, then drops the cached leaderboard.
	var reconciler *cron.Cron
	if recount != nil {
		reconciler = cron.New()
		if _, err := reconciler.AddFunc(envCfg.RecountSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := recount(ctx); err != nil {
				log.Printf("[main] count reconciliation failed: %v", err)
				return
			}
			engine.InvalidateLeaderboard()
		}); err != nil {
			return fmt.Errorf("schedule recount: %w", err)
		}
		reconciler.Start()
		defer reconciler.Stop()
	}

	addr := net.JoinHostPort(envCfg.ListenAddress, strconv.Itoa(envCfg.Port))
	srv := api.NewServer(api.ServerConfig{
		Addr:           addr,
		Coordinator:    coordinator,
		Query:          engine,
		Hub:            broadcastHub,
		MaxBodyBytes:   int64(envCfg.APIMaxBodyBytes),
		RequestTimeout: envCfg.RequestTimeout,
	})

	go func() {
		log.Printf("clickplanetd listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("server stopped")
	return nil
}

// buildStore assembles the configured store backend. Durable backends get the
// in-memory mirror in front; the returned recount function is non-nil only
// when the backend maintains derived counters worth reconciling.
func buildStore(ctx context.Context, cfg *config.EnvConfig) (store.TileStore, func(context.Context) error, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		return store.NewMemory(), nil, func() {}, nil

	case config.StoreBackendRedis:
		rdb, err := store.NewRedis(ctx, store.RedisConfig{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize})
		if err != nil {
			return nil, nil, nil, err
		}
		mirrored, err := store.NewMirrored(ctx, rdb)
		if err != nil {
			rdb.Close()
			return nil, nil, nil, err
		}
		return mirrored, rdb.Recount, func() { rdb.Close() }, nil

	case config.StoreBackendSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		mirrored, err := store.NewMirrored(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return mirrored, nil, func() { db.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func buildBus(cfg *config.EnvConfig) (bus.Bus, func(), error) {
	switch cfg.BusBackend {
	case config.BusBackendMemory:
		return bus.NewMemory(), func() {}, nil

	case config.BusBackendNATS:
		nb, err := bus.DialNATS(cfg.NATSURL, "clickplanetd", bus.ConsumerConfig{
			Durable:     cfg.ConsumerDurable,
			AckWait:     cfg.ConsumerAckWait,
			MaxDeliver:  cfg.ConsumerMaxDeliver,
			Concurrency: cfg.ConsumerConcurrency,
		})
		if err != nil {
			return nil, nil, err
		}
		return nb, func() { nb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown bus backend %q", cfg.BusBackend)
	}
}

// click-persister drains the durable click stream into the ownership store.
// Run it when the fleet splits ingestion from storage, or to close the gap
// left by partial commits.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valdo404/clickplanet-go/internal/buildinfo"
	"github.com/valdo404/clickplanet-go/internal/bus"
	"github.com/valdo404/clickplanet-go/internal/config"
	"github.com/valdo404/clickplanet-go/internal/persister"
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
	if envCfg.BusBackend != config.BusBackendNATS {
		return fmt.Errorf("click-persister requires CLICKPLANET_BUS_BACKEND=nats (got %q)", envCfg.BusBackend)
	}
	log.Printf("click-persister %s (%s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Minute)
	defer bootCancel()

	tileStore, closeStore, err := buildStore(bootCtx, envCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	nb, err := bus.DialNATS(envCfg.NATSURL, "click-persister", bus.ConsumerConfig{
		Durable:     envCfg.ConsumerDurable,
		AckWait:     envCfg.ConsumerAckWait,
		MaxDeliver:  envCfg.ConsumerMaxDeliver,
		Concurrency: envCfg.ConsumerConcurrency,
	})
	if err != nil {
		return err
	}
	defer nb.Close()

	worker := persister.NewWorker(nb, tileStore)
	worker.Start()
	log.Printf("click-persister draining %s as %q", bus.StreamName, envCfg.ConsumerDurable)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %s, shutting down...", sig)

	worker.Stop()
	log.Printf("persister stopped: %d clicks applied, %d failed", worker.Applied(), worker.Failed())
	return nil
}

func buildStore(ctx context.Context, cfg *config.EnvConfig) (store.TileStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		rdb, err := store.NewRedis(ctx, store.RedisConfig{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize})
		if err != nil {
			return nil, nil, err
		}
		return rdb, func() { rdb.Close() }, nil

	case config.StoreBackendSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("click-persister requires a durable store backend (got %q)", cfg.StoreBackend)
	}
}

// watchguard keeps a target country's tiles claimed for a wanted country,
// using only the server's public API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/valdo404/clickplanet-go/internal/buildinfo"
	"github.com/valdo404/clickplanet-go/internal/geodata"
	"github.com/valdo404/clickplanet-go/internal/robot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		targetCountry = flag.String("target-country", "fr", "country whose tiles are watched")
		wantedCountry = flag.String("wanted-country", "fr", "country the tiles are claimed for")
		host          = flag.String("host", "clickplanet.lol", "server host")
		port          = flag.Int("port", 443, "server port")
		unsecure      = flag.Bool("unsecure", false, "use http/ws instead of https/wss")
		tilesFile     = flag.String("tiles-file", "country_to_tiles.json", "path to the country tile dataset")
	)
	flag.Parse()

	log.Printf("watchguard %s (%s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	target := strings.ToLower(*targetCountry)
	wanted := strings.ToLower(*wantedCountry)

	countryTiles, err := geodata.Load(*tilesFile)
	if err != nil {
		return err
	}
	tiles := countryTiles.TilesFor(target)
	if len(tiles) == 0 {
		return fmt.Errorf("no tiles known for country %q in %s", target, *tilesFile)
	}

	guard := robot.NewWatchguard(robot.WatchguardConfig{
		Client:        robot.NewClient(*host, *port, !*unsecure),
		Tiles:         tiles,
		TargetCountry: target,
		WantedCountry: wanted,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := guard.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Printf("watchguard stopped: %d tiles reclaimed", guard.Reclaimed())
	return nil
}

// Package geodata loads the static country → tile-set dataset the watchguard
// works from. The dataset is produced offline by the map extractor and
// shipped alongside the binary.
package geodata

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// CountryTiles maps lowercase country ids to the tiles inside that country's
// borders.
type CountryTiles map[string][]int32

// Load reads a country_to_tiles.json file.
func Load(path string) (CountryTiles, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geodata: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes the dataset and normalizes each tile list to sorted unique
// ids.
func Parse(raw []byte) (CountryTiles, error) {
	var ct CountryTiles
	if err := json.Unmarshal(raw, &ct); err != nil {
		return nil, fmt.Errorf("geodata: parse: %w", err)
	}
	for country, tiles := range ct {
		if len(country) != 2 {
			return nil, fmt.Errorf("geodata: %q is not a 2-letter country id", country)
		}
		for _, tile := range tiles {
			if tile < 0 {
				return nil, fmt.Errorf("geodata: country %s has negative tile id %d", country, tile)
			}
		}
		sort.Slice(tiles, func(i, j int) bool { return tiles[i] < tiles[j] })
		ct[country] = dedupe(tiles)
	}
	return ct, nil
}

func dedupe(sorted []int32) []int32 {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// TilesFor returns the tile list for a country, or nil if unknown.
func (ct CountryTiles) TilesFor(country string) []int32 {
	return ct[country]
}

// TileSet returns the country's tiles as a membership set.
func (ct CountryTiles) TileSet(country string) map[int32]struct{} {
	tiles := ct[country]
	set := make(map[int32]struct{}, len(tiles))
	for _, tile := range tiles {
		set[tile] = struct{}{}
	}
	return set
}

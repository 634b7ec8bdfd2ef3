package tile

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/logger"
)

// Tracker collects tiles touched by replication so renderers can expire them.
// A nil *Tracker is valid and records nothing.
type Tracker struct {
	mu      sync.Mutex
	tiles   map[uint64]struct{}
	minZoom int
	maxZoom int
}

// NewTracker creates a tracker covering zoom levels minZoom..maxZoom
func NewTracker(minZoom, maxZoom int) *Tracker {
	return &Tracker{
		tiles:   make(map[uint64]struct{}),
		minZoom: minZoom,
		maxZoom: maxZoom,
	}
}

// ExpirePoint marks the tile containing a point as dirty at every tracked zoom
func (t *Tracker) ExpirePoint(lat, lon float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for z := t.minZoom; z <= t.maxZoom; z++ {
		t.tiles[LatLonToTile(lat, lon, z).Pack()] = struct{}{}
	}
}

// ExpireBBox marks every tile intersecting box as dirty at every tracked zoom
func (t *Tracker) ExpireBBox(box geo.BoundingBox) {
	if t == nil || box.MinLat > box.MaxLat || box.MinLon > box.MaxLon {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for z := t.minZoom; z <= t.maxZoom; z++ {
		for _, tile := range RangeFor(box, z).Tiles() {
			t.tiles[tile.Pack()] = struct{}{}
		}
	}
}

// ExpireNodes marks the tiles covering the bounding box of nodes
func (t *Tracker) ExpireNodes(nodes []*entity.Node) {
	if t == nil || len(nodes) == 0 {
		return
	}
	box := geo.BoundingBox{
		MinLat: nodes[0].Lat, MaxLat: nodes[0].Lat,
		MinLon: nodes[0].Lon, MaxLon: nodes[0].Lon,
	}
	for _, n := range nodes[1:] {
		box.MinLat = min(box.MinLat, n.Lat)
		box.MaxLat = max(box.MaxLat, n.Lat)
		box.MinLon = min(box.MinLon, n.Lon)
		box.MaxLon = max(box.MaxLon, n.Lon)
	}
	t.ExpireBBox(box)
}

// Count returns the number of unique dirty tiles
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tiles)
}

// Tiles returns the dirty tiles sorted by zoom, x, y
func (t *Tracker) Tiles() []Tile {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	tiles := make([]Tile, 0, len(t.tiles))
	for v := range t.tiles {
		tiles = append(tiles, Unpack(v))
	}
	t.mu.Unlock()

	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Z != tiles[j].Z {
			return tiles[i].Z < tiles[j].Z
		}
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})
	return tiles
}

// Reset forgets all dirty tiles
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.tiles)
}

// Flush appends the dirty tiles to filename in z/x/y format and resets the
// tracker. Tiles are kept if the write fails so the next flush retries them.
func (t *Tracker) Flush(filename string) error {
	tiles := t.Tiles()
	if len(tiles) == 0 {
		return nil
	}

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open expire file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	counts := make(map[int]int)
	for _, tile := range tiles {
		fmt.Fprintln(w, tile.String())
		counts[tile.Z]++
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write expire file: %w", err)
	}

	fields := []zap.Field{zap.String("file", filename)}
	for z := t.minZoom; z <= t.maxZoom; z++ {
		fields = append(fields, zap.Int(fmt.Sprintf("z%d", z), counts[z]))
	}
	fields = append(fields, zap.Int("total", len(tiles)))
	logger.Get().Info("Wrote expire tiles", fields...)

	t.Reset()
	return nil
}

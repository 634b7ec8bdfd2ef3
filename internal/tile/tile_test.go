package tile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
)

func TestLatLonToTile(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		zoom     int
		wantX    int
		wantY    int
	}{
		{"London at zoom 10", 51.5074, -0.1278, 10, 511, 340},
		{"Monaco at zoom 12", 43.7384, 7.4246, 12, 2132, 1493},
		{"New York at zoom 10", 40.7128, -74.0060, 10, 301, 385},
		{"Origin at zoom 0", 0, 0, 0, 0, 0},
		{"Origin at zoom 1", 0, 0, 1, 1, 1},
		{"North pole clamps", 90, 180, 4, 15, 0},
		{"South pole clamps", -90, -180, 4, 0, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile := LatLonToTile(tt.lat, tt.lon, tt.zoom)
			if tile.X != tt.wantX || tile.Y != tt.wantY {
				t.Errorf("LatLonToTile(%f, %f, %d) = (%d, %d), want (%d, %d)",
					tt.lat, tt.lon, tt.zoom, tile.X, tile.Y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestPack(t *testing.T) {
	for _, tile := range []Tile{{0, 0, 0}, {12, 2132, 1493}, {MaxZoom, 1<<MaxZoom - 1, 1<<MaxZoom - 1}} {
		if got := Unpack(tile.Pack()); got != tile {
			t.Errorf("Unpack(Pack(%v)) = %v", tile, got)
		}
	}
	if (Tile{12, 1, 2}).Pack() == (Tile{12, 2, 1}).Pack() {
		t.Error("distinct tiles packed to the same value")
	}
}

func TestRangeFor(t *testing.T) {
	monaco := geo.BoundingBox{MinLat: 43.724, MinLon: 7.409, MaxLat: 43.752, MaxLon: 7.440}

	r := RangeFor(monaco, 14)
	if r.Count() < 1 {
		t.Fatalf("Count() = %d, want >= 1", r.Count())
	}
	if r.MinX > r.MaxX || r.MinY > r.MaxY {
		t.Errorf("inverted range %+v", r)
	}

	center := LatLonToTile(43.7384, 7.4246, 14)
	if !r.Contains(center) {
		t.Errorf("range %+v does not contain %v", r, center)
	}
	if len(r.Tiles()) != r.Count() {
		t.Errorf("Tiles() returned %d tiles, Count() = %d", len(r.Tiles()), r.Count())
	}

	world := RangeFor(geo.World, 2)
	if world.Count() != 16 {
		t.Errorf("world at zoom 2 = %d tiles, want 16", world.Count())
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker(10, 12)
	tr.ExpirePoint(43.7384, 7.4246)
	tr.ExpirePoint(43.7384, 7.4246)
	tr.ExpirePoint(51.5074, -0.1278)

	if got := tr.Count(); got != 6 {
		t.Fatalf("Count() = %d, want 6", got)
	}

	tiles := tr.Tiles()
	if tiles[0].Z != 10 || tiles[len(tiles)-1].Z != 12 {
		t.Errorf("tiles not sorted by zoom: %v", tiles)
	}

	file := filepath.Join(t.TempDir(), "expire.list")
	if err := tr.Flush(file); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if tr.Count() != 0 {
		t.Errorf("Count() after Flush = %d, want 0", tr.Count())
	}

	tr.ExpirePoint(0, 0)
	if err := tr.Flush(file); err != nil {
		t.Fatalf("second Flush: %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 9 {
		t.Errorf("expire file has %d lines, want 9", len(lines))
	}
	if lines[0] != "10/511/340" {
		t.Errorf("first line = %q, want 10/511/340", lines[0])
	}
}

func TestTrackerExpireBBox(t *testing.T) {
	box := geo.BoundingBox{MinLat: 43.72, MinLon: 7.40, MaxLat: 43.76, MaxLon: 7.44}
	tr := NewTracker(12, 13)
	tr.ExpireBBox(box)

	want := RangeFor(box, 12).Count() + RangeFor(box, 13).Count()
	if got := tr.Count(); got != want {
		t.Fatalf("Count() = %d, want %d", got, want)
	}
	for _, tile := range tr.Tiles() {
		if !RangeFor(box, tile.Z).Contains(tile) {
			t.Errorf("tile %s outside %v", tile, box)
		}
	}

	tr.Reset()
	tr.ExpireBBox(geo.BoundingBox{MinLat: 1, MinLon: 1, MaxLat: 0, MaxLon: 2})
	if tr.Count() != 0 {
		t.Error("inverted box should expire nothing")
	}
}

func TestTrackerExpireNodes(t *testing.T) {
	nodes := []*entity.Node{
		{ID: 1, Lat: 43.76, Lon: 7.40},
		{ID: 2, Lat: 43.72, Lon: 7.44},
		{ID: 3, Lat: 43.74, Lon: 7.42},
	}
	got := NewTracker(12, 12)
	got.ExpireNodes(nodes)

	want := NewTracker(12, 12)
	want.ExpireBBox(geo.BoundingBox{MinLat: 43.72, MinLon: 7.40, MaxLat: 43.76, MaxLon: 7.44})
	if got.Count() != want.Count() {
		t.Fatalf("Count() = %d, want %d", got.Count(), want.Count())
	}

	single := NewTracker(12, 12)
	single.ExpireNodes(nodes[:1])
	if single.Count() != 1 {
		t.Errorf("single node Count() = %d, want 1", single.Count())
	}
	single.ExpireNodes(nil)
	if single.Count() != 1 {
		t.Errorf("empty node list changed Count() to %d", single.Count())
	}
}

func TestNilTracker(t *testing.T) {
	var tr *Tracker
	tr.ExpirePoint(1, 1)
	tr.ExpireBBox(geo.World)
	tr.ExpireNodes([]*entity.Node{{ID: 1}})
	if tr.Count() != 0 || tr.Tiles() != nil {
		t.Error("nil tracker should record nothing")
	}
	if err := tr.Flush("unused"); err != nil {
		t.Errorf("Flush on nil tracker: %v", err)
	}
}

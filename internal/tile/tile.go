// Package tile implements web mercator tile math used by the spatial indexes
// and tile expiry tracking.
package tile

import (
	"fmt"
	"math"

	"github.com/wegman-software/vexd/internal/geo"
)

// Web Mercator latitude limits (approximately ±85.051129°)
const (
	MaxMercatorLat = 85.0511287798
	MinMercatorLat = -85.0511287798
)

// MaxZoom is the largest zoom a Tile can be packed at
const MaxZoom = 28

// Tile is a map tile at a specific zoom level
type Tile struct {
	Z int
	X int
	Y int
}

// String returns the tile in z/x/y format
func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Pack encodes the tile as a single integer, usable as a map or key suffix
func (t Tile) Pack() uint64 {
	return uint64(t.Z)<<58 | uint64(t.X)<<29 | uint64(t.Y)
}

// Unpack reverses Pack
func Unpack(v uint64) Tile {
	const mask = 1<<29 - 1
	return Tile{Z: int(v >> 58), X: int(v >> 29 & mask), Y: int(v & mask)}
}

// LatLonToTile converts latitude/longitude to tile coordinates at a given zoom
// level using the OSM slippy map scheme
func LatLonToTile(lat, lon float64, zoom int) Tile {
	lat = math.Max(MinMercatorLat, math.Min(MaxMercatorLat, lat))
	lon = math.Max(-180, math.Min(180, lon))

	n := 1 << zoom

	x := int((lon + 180.0) / 360.0 * float64(n))
	if x >= n {
		x = n - 1
	}

	latRad := lat * math.Pi / 180.0
	y := int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * float64(n))
	y = max(0, min(n-1, y))

	return Tile{Z: zoom, X: x, Y: y}
}

// Range is an inclusive rectangle of tiles at one zoom level
type Range struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

// RangeFor returns the tiles covering box at zoom. Y grows southward, so the
// north-west corner gives the minimum.
func RangeFor(box geo.BoundingBox, zoom int) Range {
	nw := LatLonToTile(box.MaxLat, box.MinLon, zoom)
	se := LatLonToTile(box.MinLat, box.MaxLon, zoom)
	return Range{Z: zoom, MinX: nw.X, MaxX: se.X, MinY: nw.Y, MaxY: se.Y}
}

// Count returns the number of tiles in the range
func (r Range) Count() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Contains reports whether t lies in the range
func (r Range) Contains(t Tile) bool {
	return t.Z == r.Z && t.X >= r.MinX && t.X <= r.MaxX && t.Y >= r.MinY && t.Y <= r.MaxY
}

// Tiles returns every tile in the range
func (r Range) Tiles() []Tile {
	tiles := make([]Tile, 0, r.Count())
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			tiles = append(tiles, Tile{Z: r.Z, X: x, Y: y})
		}
	}
	return tiles
}

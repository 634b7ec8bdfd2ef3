package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidBox is returned for boxes that are empty, inverted or outside WGS84 range
var ErrInvalidBox = errors.New("invalid bounding box")

// BoundingBox is a geographic bounding box in decimal degrees
type BoundingBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// World covers every valid coordinate
var World = BoundingBox{MinLat: -90, MinLon: -180, MaxLat: 90, MaxLon: 180}

// Validate checks that min < max on both axes and that the box lies within
// [-90, 90] latitude and [-180, 180] longitude
func (b BoundingBox) Validate() error {
	switch {
	case !(b.MinLat < b.MaxLat):
		return fmt.Errorf("%w: minlat (%g) must be < maxlat (%g)", ErrInvalidBox, b.MinLat, b.MaxLat)
	case !(b.MinLon < b.MaxLon):
		return fmt.Errorf("%w: minlon (%g) must be < maxlon (%g)", ErrInvalidBox, b.MinLon, b.MaxLon)
	case b.MinLat < -90 || b.MaxLat > 90:
		return fmt.Errorf("%w: latitude outside [-90, 90]", ErrInvalidBox)
	case b.MinLon < -180 || b.MaxLon > 180:
		return fmt.Errorf("%w: longitude outside [-180, 180]", ErrInvalidBox)
	}
	return nil
}

// Contains checks if a point is within the bounding box (edges inclusive)
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// String returns the box in request order "minlat,minlon,maxlat,maxlon"
func (b BoundingBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// ParseBoundingBox parses a bbox string in format "minlat,minlon,maxlat,maxlon"
// and validates it
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bbox must have 4 values: minlat,minlon,maxlat,maxlon")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	box := BoundingBox{
		MinLat: coords[0],
		MinLon: coords[1],
		MaxLat: coords[2],
		MaxLon: coords[3],
	}
	if err := box.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return box, nil
}

// Package extract serves bounding box extracts of a store over HTTP.
//
// A request path names the box and the output encoding:
//
//	/minLat,minLon,maxLat,maxLon.suffix
//
// Coordinates may be separated by commas or semicolons, but at least one
// comma is required. The suffix selects a registered codec that can encode.
package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/geo"
)

var (
	// ErrMalformedPath is returned for paths that do not have the extract shape
	ErrMalformedPath = errors.New("extract: malformed path")
	// ErrInvalidBox is returned when the coordinates do not form a valid box
	ErrInvalidBox = errors.New("extract: invalid bounding box")
	// ErrUnsupportedFormat is returned when no codec can encode the suffix
	ErrUnsupportedFormat = errors.New("extract: unsupported format")
)

// Request is a parsed extract request
type Request struct {
	Box    geo.BoundingBox
	Format string // codec suffix without the dot, lower case
}

// ParseRequest parses an extract path. Fields beyond the fourth coordinate
// are ignored.
func ParseRequest(path string) (Request, error) {
	if !strings.Contains(path, ",") {
		return Request{}, fmt.Errorf("%w: %q has no comma", ErrMalformedPath, path)
	}
	path = strings.TrimPrefix(path, "/")

	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return Request{}, fmt.Errorf("%w: %q has no format suffix", ErrMalformedPath, path)
	}
	format := strings.ToLower(path[dot+1:])

	fields := strings.Split(strings.ReplaceAll(path[:dot], ";", ","), ",")
	if len(fields) < 4 {
		return Request{}, fmt.Errorf("%w: want 4 coordinates, got %d", ErrMalformedPath, len(fields))
	}

	var coords [4]float64
	for i := range coords {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return Request{}, fmt.Errorf("%w: coordinate %q", ErrMalformedPath, fields[i])
		}
		coords[i] = v
	}

	box := geo.BoundingBox{MinLat: coords[0], MinLon: coords[1], MaxLat: coords[2], MaxLon: coords[3]}
	if err := box.Validate(); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidBox, err)
	}
	if !codec.CanEncode(format) {
		return Request{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return Request{Box: box, Format: format}, nil
}

// Package osmxml decodes OSM XML files with paulmach/osm/osmxml. It is
// read-only.
package osmxml

import (
	"context"
	"io"
	"time"

	"github.com/paulmach/osm/osmxml"

	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/stream"
)

// Decoder is a Source reading OSM XML
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a Source reading OSM XML from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// ReplicationURL is always empty; OSM XML carries no replication header
func (d *Decoder) ReplicationURL() string { return "" }

func (d *Decoder) CopyTo(ctx context.Context, sink stream.Sink) error {
	scanner := osmxml.New(ctx, d.r)
	defer scanner.Close()
	return codec.CopyScanner(ctx, scanner, sink, time.Time{}, "")
}

var _ stream.Source = (*Decoder)(nil)

func init() {
	codec.Register(codec.Format{
		Name:        "osm",
		Suffix:      ".osm",
		Description: "OSM XML (read-only)",
		NewSource:   func(r io.Reader) stream.Source { return NewDecoder(r) },
	})
}

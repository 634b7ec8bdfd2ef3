package pbf

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/paulmach/osm/osmpbf"

	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/stream"
)

// Decoder is a Source reading an OSM PBF stream with paulmach/osm/osmpbf
type Decoder struct {
	r     io.Reader
	procs int

	once    sync.Once
	scanner *osmpbf.Scanner
	header  *osmpbf.Header
	err     error
}

// NewDecoder returns a Source reading PBF from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, procs: runtime.NumCPU()}
}

func (d *Decoder) open() error {
	d.once.Do(func() {
		d.scanner = osmpbf.New(context.Background(), d.r, d.procs)
		d.header, d.err = d.scanner.Header()
		if d.err != nil {
			d.err = fmt.Errorf("failed to read pbf header: %w", d.err)
		}
	})
	return d.err
}

// ReplicationURL returns the osmosis replication base URL from the file header
func (d *Decoder) ReplicationURL() string {
	if d.open() != nil || d.header == nil {
		return ""
	}
	return d.header.ReplicationBaseURL
}

// CopyTo drains the file into sink. The header's replication timestamp and
// base URL are forwarded when present.
func (d *Decoder) CopyTo(ctx context.Context, sink stream.Sink) error {
	if err := d.open(); err != nil {
		return err
	}
	defer d.scanner.Close()

	h := d.header
	if h == nil {
		h = &osmpbf.Header{}
	}
	return codec.CopyScanner(ctx, d.scanner, sink, h.ReplicationTimestamp, h.ReplicationBaseURL)
}

var _ stream.Source = (*Decoder)(nil)

func init() {
	codec.Register(codec.Format{
		Name:        "pbf",
		Suffix:      ".pbf",
		Description: "OSM protocol buffer binary format",
		NewSink:     func(w io.Writer) stream.Sink { return NewEncoder(w) },
		NewSource:   func(r io.Reader) stream.Source { return NewDecoder(r) },
	})
}

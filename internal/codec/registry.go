// Package codec resolves entity stream encoders and decoders by file suffix.
//
// Formats register themselves from their own packages; import
// codec/all to get every built-in format.
package codec

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/wegman-software/vexd/internal/stream"
)

var (
	// ErrUnknownFormat is returned when no registered format matches a suffix
	ErrUnknownFormat = errors.New("unknown format")
	// ErrWriteOnly is returned when a decoder is requested for a format that only encodes
	ErrWriteOnly = errors.New("format is write-only")
	// ErrReadOnly is returned when an encoder is requested for a format that only decodes
	ErrReadOnly = errors.New("format is read-only")
)

// Format describes one registered encoding
type Format struct {
	Name        string // short name, e.g. "pbf"
	Suffix      string // file suffix including the dot, e.g. ".pbf"
	Description string

	// NewSink creates an encoder writing to w. Nil for read-only formats.
	NewSink func(w io.Writer) stream.Sink
	// NewSource creates a decoder reading from r. Nil for write-only formats.
	NewSource func(r io.Reader) stream.Source
}

// CanEncode reports whether the format has an encoder
func (f *Format) CanEncode() bool { return f.NewSink != nil }

// CanDecode reports whether the format has a decoder
func (f *Format) CanDecode() bool { return f.NewSource != nil }

var (
	mu      sync.RWMutex
	formats = make(map[string]*Format)
)

// Register adds a format. It panics if the suffix is already taken, like
// database/sql driver registration.
func Register(f Format) {
	if f.Name == "" || !strings.HasPrefix(f.Suffix, ".") {
		panic(fmt.Sprintf("codec: invalid format registration %q/%q", f.Name, f.Suffix))
	}
	mu.Lock()
	defer mu.Unlock()
	key := strings.ToLower(f.Suffix)
	if _, dup := formats[key]; dup {
		panic("codec: Register called twice for suffix " + f.Suffix)
	}
	formats[key] = &f
}

// Formats returns all registered formats sorted by name
func Formats() []*Format {
	mu.RLock()
	defer mu.RUnlock()
	list := make([]*Format, 0, len(formats))
	for _, f := range formats {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Lookup resolves a format from a bare name ("pbf"), a suffix (".pbf") or a
// file name or URL ending in a registered suffix. The longest matching suffix
// wins, so "planet.osm.pbf" resolves to pbf.
func Lookup(name string) (*Format, error) {
	key := strings.ToLower(name)
	if i := strings.IndexAny(key, "?#"); i >= 0 && strings.Contains(key, "://") {
		key = key[:i]
	}

	mu.RLock()
	defer mu.RUnlock()

	if f, ok := formats["."+key]; ok {
		return f, nil
	}
	var best *Format
	base := path.Base(key)
	for suffix, f := range formats {
		if strings.HasSuffix(base, suffix) && (best == nil || len(suffix) > len(best.Suffix)) {
			best = f
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return best, nil
}

// CanEncode reports whether name resolves to a format with an encoder
func CanEncode(name string) bool {
	f, err := Lookup(name)
	return err == nil && f.CanEncode()
}

// SinkFor returns an encoder for name writing to w
func SinkFor(name string, w io.Writer) (stream.Sink, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if !f.CanEncode() {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, f.Name)
	}
	return f.NewSink(w), nil
}

// SourceFor returns a decoder for name reading from r
func SourceFor(name string, r io.Reader) (stream.Source, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if !f.CanDecode() {
		return nil, fmt.Errorf("%w: %s", ErrWriteOnly, f.Name)
	}
	return f.NewSource(r), nil
}

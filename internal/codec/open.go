package codec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/wegman-software/vexd/internal/stream"
)

// ReadSource is a Source backed by an open file or HTTP body
type ReadSource struct {
	stream.Source
	closer io.Closer
}

// Close releases the decoder, if it holds resources, and the underlying file
// or response body
func (s *ReadSource) Close() error {
	if c, ok := s.Source.(io.Closer); ok {
		c.Close()
	}
	return s.closer.Close()
}

// WriteSink is a Sink backed by an open file. Close flushes and closes the
// file; it does not call WriteEnd.
type WriteSink struct {
	stream.Sink
	buf  *bufio.Writer
	file *os.File
}

// Close flushes buffered output and closes the file
func (s *WriteSink) Close() error {
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush %s: %w", s.file.Name(), err)
	}
	return s.file.Close()
}

// IsURL reports whether name is an http(s) URL
func IsURL(name string) bool {
	return strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
}

// OpenSource opens a local file or http(s) URL and resolves its decoder by suffix
func OpenSource(ctx context.Context, name string) (*ReadSource, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if !f.CanDecode() {
		return nil, fmt.Errorf("%w: %s", ErrWriteOnly, f.Name)
	}

	var rc io.ReadCloser
	if IsURL(name) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, name, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch %s: HTTP %d", name, resp.StatusCode)
		}
		rc = resp.Body
	} else {
		file, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		rc = file
	}

	return &ReadSource{
		Source: f.NewSource(bufio.NewReaderSize(rc, 1<<20)),
		closer: rc,
	}, nil
}

// CreateSink creates the file at path and resolves its encoder by suffix. The
// suffix is checked before the file is created.
func CreateSink(path string) (*WriteSink, error) {
	f, err := Lookup(path)
	if err != nil {
		return nil, err
	}
	if !f.CanEncode() {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, f.Name)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	buf := bufio.NewWriterSize(file, 1<<20)
	return &WriteSink{
		Sink: f.NewSink(buf),
		buf:  buf,
		file: file,
	}, nil
}

package vex

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/stream"
)

// Decoder is a Source reading a vex stream
type Decoder struct {
	r  *bufio.Reader
	zr *zstd.Decoder

	headerRead bool
	ts         time.Time
	url        string
	err        error
}

// NewDecoder returns a Source reading vex from r
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br}
}

type block struct {
	kind    byte
	count   int
	payload []byte
}

func (d *Decoder) readBlock() (block, error) {
	kind, err := d.r.ReadByte()
	if err == io.EOF {
		return block{}, ErrTruncated
	}
	if err != nil {
		return block{}, err
	}

	var hdr [3]uint64
	for i := range hdr {
		if hdr[i], err = binary.ReadUvarint(d.r); err != nil {
			return block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
	}
	count, rawLen, zLen := hdr[0], hdr[1], hdr[2]
	if rawLen > maxPayload || zLen > maxPayload || count > BlockSize {
		return block{}, fmt.Errorf("%w: block %q too large", ErrCorrupt, kind)
	}

	z := make([]byte, zLen)
	if _, err := io.ReadFull(d.r, z); err != nil {
		return block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	payload, err := d.zr.DecodeAll(z, make([]byte, 0, rawLen))
	if err != nil {
		return block{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint64(len(payload)) != rawLen {
		return block{}, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(payload), rawLen)
	}
	return block{kind: kind, count: int(count), payload: payload}, nil
}

// readHeader consumes the magic and header block once
func (d *Decoder) readHeader() error {
	if d.headerRead {
		return d.err
	}
	d.headerRead = true
	d.err = d.doReadHeader()
	if d.err != nil {
		d.Close()
	}
	return d.err
}

// Close releases the decompressor. CopyTo calls it once the stream is drained;
// a Decoder only asked for ReplicationURL must be closed by the caller.
func (d *Decoder) Close() error {
	if d.zr != nil {
		d.zr.Close()
		d.zr = nil
	}
	return nil
}

func (d *Decoder) doReadHeader() error {
	var m [len(magic) + 1]byte
	if _, err := io.ReadFull(d.r, m[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(m[:len(magic)]) != magic {
		return ErrBadMagic
	}
	if m[len(magic)] != version {
		return fmt.Errorf("vex: unsupported version %d", m[len(magic)])
	}

	zr, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return err
	}
	d.zr = zr

	b, err := d.readBlock()
	if err != nil {
		return err
	}
	if b.kind != kindHeader {
		return fmt.Errorf("%w: first block is %q, want header", ErrCorrupt, b.kind)
	}
	secs, n := binary.Varint(b.payload)
	if n <= 0 {
		return fmt.Errorf("%w: header timestamp", ErrCorrupt)
	}
	ulen, m2 := binary.Uvarint(b.payload[n:])
	if m2 <= 0 || uint64(len(b.payload)-n-m2) < ulen {
		return fmt.Errorf("%w: header url", ErrCorrupt)
	}
	if secs != 0 {
		d.ts = time.Unix(secs, 0).UTC()
	}
	d.url = string(b.payload[n+m2 : n+m2+int(ulen)])
	return nil
}

// ReplicationURL returns the base URL recorded in the header
func (d *Decoder) ReplicationURL() string {
	if d.readHeader() != nil {
		return ""
	}
	return d.url
}

// CopyTo drains the stream into sink. WriteEnd is only called once the end
// block has been read.
func (d *Decoder) CopyTo(ctx context.Context, sink stream.Sink) error {
	if err := d.readHeader(); err != nil {
		return err
	}
	defer d.Close()

	if err := sink.WriteBegin(); err != nil {
		return err
	}
	if !d.ts.IsZero() {
		if err := sink.SetReplicationTimestamp(d.ts); err != nil {
			return err
		}
	}
	if d.url != "" {
		if err := sink.SetReplicationURL(d.url); err != nil {
			return err
		}
	}

	rank := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := d.readBlock()
		if err != nil {
			return err
		}
		if b.kind == kindEnd {
			return sink.WriteEnd()
		}

		r := kindRank(b.kind)
		if r == 0 {
			return fmt.Errorf("%w: unexpected block kind %q", ErrCorrupt, b.kind)
		}
		if r < rank {
			return fmt.Errorf("%w: block %q after %d", stream.ErrOutOfOrder, b.kind, rank)
		}
		rank = r

		if err := writeBlock(sink, b); err != nil {
			return err
		}
	}
}

func writeBlock(sink stream.Sink, b block) error {
	p := newPayloadReader(b.payload)
	for i := 0; i < b.count; i++ {
		var err error
		switch b.kind {
		case kindNodes:
			n := p.node()
			if p.err == nil {
				err = sink.WriteNode(n)
			}
		case kindWays:
			w := p.way()
			if p.err == nil {
				err = sink.WriteWay(w)
			}
		case kindRelations:
			r := p.relation()
			if p.err == nil {
				err = sink.WriteRelation(r)
			}
		}
		if p.err != nil {
			return p.err
		}
		if err != nil {
			return err
		}
	}
	if p.off != len(p.buf) {
		return fmt.Errorf("%w: %d trailing bytes in block %q", ErrCorrupt, len(p.buf)-p.off, b.kind)
	}
	return nil
}

var _ stream.Source = (*Decoder)(nil)

func init() {
	codec.Register(codec.Format{
		Name:        "vex",
		Suffix:      ".vex",
		Description: "compact zstd-compressed binary format",
		NewSink:     func(w io.Writer) stream.Sink { return NewEncoder(w) },
		NewSource:   func(r io.Reader) stream.Source { return NewDecoder(r) },
	})
}

package vex

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/stream"
)

var errEnded = errors.New("vex: encoder already ended")

// Encoder writes a vex stream
type Encoder struct {
	w   io.Writer
	zw  *zstd.Encoder
	pw  *payloadWriter
	out []byte

	ts  time.Time
	url string

	kind       byte
	count      int
	headerDone bool
	ended      bool
	err        error
}

// NewEncoder returns a Sink writing vex to w
func NewEncoder(w io.Writer) *Encoder {
	zw, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	return &Encoder{w: w, zw: zw, pw: newPayloadWriter(), err: err}
}

func (e *Encoder) WriteBegin() error { return e.err }

func (e *Encoder) SetReplicationTimestamp(ts time.Time) error {
	e.ts = ts
	return e.err
}

func (e *Encoder) SetReplicationURL(url string) error {
	e.url = url
	return e.err
}

func (e *Encoder) WriteNode(n *entity.Node) error {
	if err := e.switchKind(kindNodes); err != nil {
		return err
	}
	e.pw.node(n)
	return e.entityAdded()
}

func (e *Encoder) WriteWay(w *entity.Way) error {
	if err := e.switchKind(kindWays); err != nil {
		return err
	}
	e.pw.way(w)
	return e.entityAdded()
}

func (e *Encoder) WriteRelation(r *entity.Relation) error {
	if err := e.switchKind(kindRelations); err != nil {
		return err
	}
	e.pw.relation(r)
	return e.entityAdded()
}

// WriteEnd flushes the last block and writes the end marker
func (e *Encoder) WriteEnd() error {
	if err := e.prepare(); err != nil {
		return err
	}
	e.flush()
	if e.err == nil {
		e.writeBlock(kindEnd, 0, nil)
	}
	e.ended = true
	e.zw.Close()
	return e.err
}

func (e *Encoder) prepare() error {
	if e.err != nil {
		return e.err
	}
	if e.ended {
		return errEnded
	}
	if !e.headerDone {
		e.headerDone = true
		if _, err := io.WriteString(e.w, magic); err != nil {
			e.err = err
			return err
		}
		if _, err := e.w.Write([]byte{version}); err != nil {
			e.err = err
			return err
		}
		var h []byte
		var secs int64
		if !e.ts.IsZero() {
			secs = e.ts.Unix()
		}
		h = binary.AppendVarint(h, secs)
		h = binary.AppendUvarint(h, uint64(len(e.url)))
		h = append(h, e.url...)
		e.writeBlock(kindHeader, 0, h)
	}
	return e.err
}

func (e *Encoder) switchKind(kind byte) error {
	if err := e.prepare(); err != nil {
		return err
	}
	if e.kind != kind {
		e.flush()
		e.kind = kind
	}
	return e.err
}

func (e *Encoder) entityAdded() error {
	e.count++
	if e.count >= BlockSize {
		e.flush()
	}
	return e.err
}

// flush compresses and writes the pending entity block, if any
func (e *Encoder) flush() {
	if e.count == 0 || e.err != nil {
		return
	}
	e.writeBlock(e.kind, e.count, e.pw.buf)
	e.pw.reset()
	e.count = 0
}

func (e *Encoder) writeBlock(kind byte, count int, payload []byte) {
	e.out = e.zw.EncodeAll(payload, e.out[:0])

	var hdr []byte
	hdr = append(hdr, kind)
	hdr = binary.AppendUvarint(hdr, uint64(count))
	hdr = binary.AppendUvarint(hdr, uint64(len(payload)))
	hdr = binary.AppendUvarint(hdr, uint64(len(e.out)))
	if _, err := e.w.Write(hdr); err != nil {
		e.err = err
		return
	}
	if _, err := e.w.Write(e.out); err != nil {
		e.err = err
	}
}

var _ stream.Sink = (*Encoder)(nil)

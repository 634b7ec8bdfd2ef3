// Package vex implements a compact binary entity format.
//
// A file is the magic "VEXFMT" followed by a version byte and a sequence of
// blocks. Each block is
//
//	kind     byte     'H' header, 'N' nodes, 'W' ways, 'R' relations, 'E' end
//	count    uvarint  number of entities
//	rawLen   uvarint  uncompressed payload size
//	zLen     uvarint  compressed payload size
//	payload  zstd
//
// The header block comes first and the end block last; entity blocks appear in
// node, way, relation order. A file without an end block is truncated.
//
// Inside a payload, ids, coordinates and way/member refs are zigzag varint
// deltas against the previous value in the block. Coordinates are fixed point
// at 1e-7 degrees. Strings are coded through a per-block table: 0 introduces a
// new literal (uvarint length + bytes), k > 0 refers to the k-th literal.
package vex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wegman-software/vexd/internal/entity"
)

const (
	magic   = "VEXFMT"
	version = 1

	kindHeader    byte = 'H'
	kindNodes     byte = 'N'
	kindWays      byte = 'W'
	kindRelations byte = 'R'
	kindEnd       byte = 'E'

	// BlockSize is the maximum number of entities per block
	BlockSize = 8000

	maxPayload = 64 << 20
)

var (
	ErrBadMagic  = errors.New("vex: not a vex stream")
	ErrTruncated = errors.New("vex: stream truncated before end block")
	ErrCorrupt   = errors.New("vex: corrupt block")
)

func kindRank(kind byte) int {
	switch kind {
	case kindNodes:
		return 1
	case kindWays:
		return 2
	case kindRelations:
		return 3
	}
	return 0
}

// payloadWriter builds one uncompressed block payload
type payloadWriter struct {
	buf     []byte
	strings map[string]uint64
	prev    [3]int64 // id, lat, lon; lat doubles as ref for ways and relations
}

func newPayloadWriter() *payloadWriter {
	return &payloadWriter{strings: make(map[string]uint64)}
}

func (p *payloadWriter) reset() {
	p.buf = p.buf[:0]
	clear(p.strings)
	p.prev = [3]int64{}
}

func (p *payloadWriter) uvarint(v uint64) { p.buf = binary.AppendUvarint(p.buf, v) }

func (p *payloadWriter) delta(slot int, v int64) {
	p.buf = binary.AppendVarint(p.buf, v-p.prev[slot])
	p.prev[slot] = v
}

func (p *payloadWriter) str(s string) {
	if k, ok := p.strings[s]; ok {
		p.uvarint(k)
		return
	}
	p.strings[s] = uint64(len(p.strings) + 1)
	p.uvarint(0)
	p.uvarint(uint64(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadWriter) tags(tags entity.Tags) {
	p.uvarint(uint64(len(tags)))
	for _, t := range tags {
		p.str(t.Key)
		p.str(t.Value)
	}
}

func (p *payloadWriter) node(n *entity.Node) {
	p.delta(0, n.ID)
	p.delta(1, int64(entity.ScaleCoord(n.Lat)))
	p.delta(2, int64(entity.ScaleCoord(n.Lon)))
	p.tags(n.Tags)
}

func (p *payloadWriter) way(w *entity.Way) {
	p.delta(0, w.ID)
	p.tags(w.Tags)
	p.uvarint(uint64(len(w.Nodes)))
	for _, ref := range w.Nodes {
		p.delta(1, ref)
	}
}

func (p *payloadWriter) relation(r *entity.Relation) {
	p.delta(0, r.ID)
	p.tags(r.Tags)
	p.uvarint(uint64(len(r.Members)))
	for _, m := range r.Members {
		p.buf = append(p.buf, byte(m.Type))
		p.delta(1, m.Ref)
		p.str(m.Role)
	}
}

// payloadReader decodes one uncompressed block payload
type payloadReader struct {
	buf     []byte
	off     int
	strings []string
	prev    [3]int64
	err     error
}

func newPayloadReader(buf []byte) *payloadReader {
	return &payloadReader{buf: buf}
}

func (p *payloadReader) fail(what string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: bad %s at offset %d", ErrCorrupt, what, p.off)
	}
}

func (p *payloadReader) uvarint() uint64 {
	if p.err != nil {
		return 0
	}
	v, n := binary.Uvarint(p.buf[p.off:])
	if n <= 0 {
		p.fail("uvarint")
		return 0
	}
	p.off += n
	return v
}

// count reads a length and rejects values that cannot fit in the remaining payload
func (p *payloadReader) count() int {
	v := p.uvarint()
	if v > uint64(len(p.buf)-p.off) {
		p.fail("length")
		return 0
	}
	return int(v)
}

func (p *payloadReader) delta(slot int) int64 {
	if p.err != nil {
		return 0
	}
	v, n := binary.Varint(p.buf[p.off:])
	if n <= 0 {
		p.fail("varint")
		return 0
	}
	p.off += n
	p.prev[slot] += v
	return p.prev[slot]
}

func (p *payloadReader) u8() byte {
	if p.err != nil {
		return 0
	}
	if p.off >= len(p.buf) {
		p.fail("byte")
		return 0
	}
	b := p.buf[p.off]
	p.off++
	return b
}

func (p *payloadReader) str() string {
	k := p.uvarint()
	if p.err != nil {
		return ""
	}
	if k > 0 {
		if k > uint64(len(p.strings)) {
			p.fail("string reference")
			return ""
		}
		return p.strings[k-1]
	}
	n := p.count()
	if p.err != nil {
		return ""
	}
	s := string(p.buf[p.off : p.off+n])
	p.off += n
	p.strings = append(p.strings, s)
	return s
}

func (p *payloadReader) tags() entity.Tags {
	n := p.count()
	if n == 0 {
		return nil
	}
	tags := make(entity.Tags, 0, n)
	for i := 0; i < n && p.err == nil; i++ {
		k := p.str()
		v := p.str()
		tags = append(tags, entity.Tag{Key: k, Value: v})
	}
	return tags
}

func (p *payloadReader) node() *entity.Node {
	n := &entity.Node{ID: p.delta(0)}
	n.Lat = entity.UnscaleCoord(int32(p.delta(1)))
	n.Lon = entity.UnscaleCoord(int32(p.delta(2)))
	n.Tags = p.tags()
	return n
}

func (p *payloadReader) way() *entity.Way {
	w := &entity.Way{ID: p.delta(0), Tags: p.tags()}
	n := p.count()
	if n > 0 {
		w.Nodes = make([]int64, 0, n)
	}
	for i := 0; i < n && p.err == nil; i++ {
		w.Nodes = append(w.Nodes, p.delta(1))
	}
	return w
}

func (p *payloadReader) relation() *entity.Relation {
	r := &entity.Relation{ID: p.delta(0), Tags: p.tags()}
	n := p.count()
	if n > 0 {
		r.Members = make([]entity.Member, 0, n)
	}
	for i := 0; i < n && p.err == nil; i++ {
		mt := entity.MemberType(p.u8())
		if mt > entity.MemberRelation {
			p.fail("member type")
			break
		}
		ref := p.delta(1)
		role := p.str()
		r.Members = append(r.Members, entity.Member{Type: mt, Ref: ref, Role: role})
	}
	return r
}

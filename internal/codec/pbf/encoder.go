package pbf

import (
	"errors"
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/stream"
)

// Field numbers from osmformat.proto
const (
	headerRequiredFeatures = 4
	headerWritingProgram   = 16
	headerReplicationTime  = 32
	headerReplicationURL   = 34

	blockStringTable = 1
	blockGroup       = 2
	stringTableS     = 1

	groupDense     = 2
	groupWays      = 3
	groupRelations = 4

	denseID     = 1
	denseInfo   = 5
	denseLat    = 8
	denseLon    = 9
	denseKeyVal = 10

	infoVersion   = 1
	infoTimestamp = 2
	infoChangeset = 3
	infoUID       = 4
	infoUserSID   = 5

	elemID   = 1
	elemKeys = 2
	elemVals = 3

	wayRefs = 8

	relRoles = 8
	relMemID = 9
	relTypes = 10
)

// BlockSize is the maximum number of entities per OSMData block
const BlockSize = 8000

// WritingProgram is recorded in the OSMHeader block
var WritingProgram = "vexd"

var errEnded = errors.New("pbf: encoder already ended")

// Encoder writes an OSM PBF stream. The header block is emitted lazily so that
// replication info set after WriteBegin still lands in it.
type Encoder struct {
	bw  *blobWriter
	ts  time.Time
	url string

	headerDone bool
	ended      bool
	err        error

	nodes     []*entity.Node
	ways      []*entity.Way
	relations []*entity.Relation
}

// NewEncoder returns a Sink writing PBF to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{bw: newBlobWriter(w)}
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
	if err := e.prepare(); err != nil {
		return err
	}
	if len(e.ways) > 0 || len(e.relations) > 0 {
		e.flush()
	}
	e.nodes = append(e.nodes, n)
	if len(e.nodes) >= BlockSize {
		e.flush()
	}
	return e.err
}

func (e *Encoder) WriteWay(w *entity.Way) error {
	if err := e.prepare(); err != nil {
		return err
	}
	if len(e.nodes) > 0 || len(e.relations) > 0 {
		e.flush()
	}
	e.ways = append(e.ways, w)
	if len(e.ways) >= BlockSize {
		e.flush()
	}
	return e.err
}

func (e *Encoder) WriteRelation(r *entity.Relation) error {
	if err := e.prepare(); err != nil {
		return err
	}
	if len(e.nodes) > 0 || len(e.ways) > 0 {
		e.flush()
	}
	e.relations = append(e.relations, r)
	if len(e.relations) >= BlockSize {
		e.flush()
	}
	return e.err
}

func (e *Encoder) WriteEnd() error {
	if err := e.prepare(); err != nil {
		return err
	}
	e.flush()
	e.ended = true
	return e.err
}

// prepare fails on a finished or broken encoder and writes the header once
func (e *Encoder) prepare() error {
	if e.err != nil {
		return e.err
	}
	if e.ended {
		return errEnded
	}
	if !e.headerDone {
		e.headerDone = true
		e.err = e.bw.write(typeHeader, e.headerBlock())
	}
	return e.err
}

func (e *Encoder) headerBlock() []byte {
	var b []byte
	for _, feature := range []string{"OsmSchema-V0.6", "DenseNodes"} {
		b = protowire.AppendTag(b, headerRequiredFeatures, protowire.BytesType)
		b = protowire.AppendString(b, feature)
	}
	b = protowire.AppendTag(b, headerWritingProgram, protowire.BytesType)
	b = protowire.AppendString(b, WritingProgram)
	if !e.ts.IsZero() {
		b = protowire.AppendTag(b, headerReplicationTime, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.ts.Unix()))
	}
	if e.url != "" {
		b = protowire.AppendTag(b, headerReplicationURL, protowire.BytesType)
		b = protowire.AppendString(b, e.url)
	}
	return b
}

// flush writes whichever kind is buffered as one OSMData block
func (e *Encoder) flush() {
	if e.err != nil {
		return
	}
	st := newStringTable()
	var group []byte
	switch {
	case len(e.nodes) > 0:
		group = encodeDense(st, e.nodes)
		e.nodes = e.nodes[:0]
	case len(e.ways) > 0:
		group = encodeWays(st, e.ways)
		e.ways = e.ways[:0]
	case len(e.relations) > 0:
		group = encodeRelations(st, e.relations)
		e.relations = e.relations[:0]
	default:
		return
	}

	var block []byte
	block = protowire.AppendTag(block, blockStringTable, protowire.BytesType)
	block = protowire.AppendBytes(block, st.encode())
	block = protowire.AppendTag(block, blockGroup, protowire.BytesType)
	block = protowire.AppendBytes(block, group)

	e.err = e.bw.write(typeData, block)
}

// stringTable interns strings per block. Index 0 is reserved for "".
type stringTable struct {
	index   map[string]uint32
	entries []string
}

func newStringTable() *stringTable {
	return &stringTable{
		index:   map[string]uint32{"": 0},
		entries: []string{""},
	}
}

func (st *stringTable) id(s string) uint32 {
	if i, ok := st.index[s]; ok {
		return i
	}
	i := uint32(len(st.entries))
	st.index[s] = i
	st.entries = append(st.entries, s)
	return i
}

func (st *stringTable) encode() []byte {
	var b []byte
	for _, s := range st.entries {
		b = protowire.AppendTag(b, stringTableS, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func appendPacked(b []byte, num protowire.Number, vals []uint64) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func zigzagDeltas(vals []int64) []uint64 {
	out := make([]uint64, len(vals))
	var prev int64
	for i, v := range vals {
		out[i] = protowire.EncodeZigZag(v - prev)
		prev = v
	}
	return out
}

func encodeDense(st *stringTable, nodes []*entity.Node) []byte {
	ids := make([]int64, len(nodes))
	lats := make([]int64, len(nodes))
	lons := make([]int64, len(nodes))
	var keyVals []uint64
	for i, n := range nodes {
		ids[i] = n.ID
		lats[i] = int64(entity.ScaleCoord(n.Lat))
		lons[i] = int64(entity.ScaleCoord(n.Lon))
		for _, t := range n.Tags {
			keyVals = append(keyVals, uint64(st.id(t.Key)), uint64(st.id(t.Value)))
		}
		keyVals = append(keyVals, 0)
	}

	// Metadata is not stored; readers still get well-formed parallel arrays.
	zeros := make([]uint64, len(nodes))
	var info []byte
	info = appendPacked(info, infoVersion, zeros)
	info = appendPacked(info, infoTimestamp, zeros)
	info = appendPacked(info, infoChangeset, zeros)
	info = appendPacked(info, infoUID, zeros)
	info = appendPacked(info, infoUserSID, zeros)

	var dense []byte
	dense = appendPacked(dense, denseID, zigzagDeltas(ids))
	dense = protowire.AppendTag(dense, denseInfo, protowire.BytesType)
	dense = protowire.AppendBytes(dense, info)
	dense = appendPacked(dense, denseLat, zigzagDeltas(lats))
	dense = appendPacked(dense, denseLon, zigzagDeltas(lons))
	dense = appendPacked(dense, denseKeyVal, keyVals)

	var group []byte
	group = protowire.AppendTag(group, groupDense, protowire.BytesType)
	return protowire.AppendBytes(group, dense)
}

func appendKeysVals(b []byte, st *stringTable, tags entity.Tags) []byte {
	keys := make([]uint64, len(tags))
	vals := make([]uint64, len(tags))
	for i, t := range tags {
		keys[i] = uint64(st.id(t.Key))
		vals[i] = uint64(st.id(t.Value))
	}
	b = appendPacked(b, elemKeys, keys)
	return appendPacked(b, elemVals, vals)
}

func encodeWays(st *stringTable, ways []*entity.Way) []byte {
	var group []byte
	for _, w := range ways {
		var msg []byte
		msg = protowire.AppendTag(msg, elemID, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(w.ID))
		msg = appendKeysVals(msg, st, w.Tags)
		msg = appendPacked(msg, wayRefs, zigzagDeltas(w.Nodes))

		group = protowire.AppendTag(group, groupWays, protowire.BytesType)
		group = protowire.AppendBytes(group, msg)
	}
	return group
}

func encodeRelations(st *stringTable, relations []*entity.Relation) []byte {
	var group []byte
	for _, r := range relations {
		roles := make([]uint64, len(r.Members))
		refs := make([]int64, len(r.Members))
		types := make([]uint64, len(r.Members))
		for i, m := range r.Members {
			roles[i] = uint64(st.id(m.Role))
			refs[i] = m.Ref
			types[i] = uint64(m.Type)
		}

		var msg []byte
		msg = protowire.AppendTag(msg, elemID, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(r.ID))
		msg = appendKeysVals(msg, st, r.Tags)
		msg = appendPacked(msg, relRoles, roles)
		msg = appendPacked(msg, relMemID, zigzagDeltas(refs))
		msg = appendPacked(msg, relTypes, types)

		group = protowire.AppendTag(group, groupRelations, protowire.BytesType)
		group = protowire.AppendBytes(group, msg)
	}
	return group
}

var _ stream.Sink = (*Encoder)(nil)

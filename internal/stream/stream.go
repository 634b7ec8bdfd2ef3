// Package stream defines the entity stream contract shared by codecs, stores and
// the extract service.
//
// A Sink receives, in order:
//
//	WriteBegin
//	SetReplicationTimestamp / SetReplicationURL (optional, before any entity)
//	WriteNode* WriteWay* WriteRelation*
//	WriteEnd
//
// A Source drains itself into a Sink with CopyTo. Sources never call WriteEnd
// after a failed read, so a Sink that saw no WriteEnd holds invalid output.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/wegman-software/vexd/internal/entity"
)

var (
	ErrWriteAfterEnd       = errors.New("stream: write after end")
	ErrOutOfOrder          = errors.New("stream: entity out of order")
	ErrLateReplicationInfo = errors.New("stream: replication info after first entity")
	ErrNotStarted          = errors.New("stream: write before begin")
)

// EntityWriter receives entities
type EntityWriter interface {
	WriteNode(n *entity.Node) error
	WriteWay(w *entity.Way) error
	WriteRelation(r *entity.Relation) error
}

// Sink is the write side of an entity stream
type Sink interface {
	EntityWriter
	WriteBegin() error
	SetReplicationTimestamp(ts time.Time) error
	SetReplicationURL(url string) error
	WriteEnd() error
}

// Source is the read side of an entity stream
type Source interface {
	// ReplicationURL returns the upstream advertised by the data, or "".
	ReplicationURL() string
	// CopyTo fully drains the source into sink, nodes first, then ways, then relations.
	CopyTo(ctx context.Context, sink Sink) error
}

// Discard is a Sink that drops everything
var Discard Sink = discard{}

type discard struct{}

func (discard) WriteBegin() error { return nil }
func (discard) SetReplicationTimestamp(time.Time) error { return nil }
func (discard) SetReplicationURL(string) error { return nil }
func (discard) WriteNode(*entity.Node) error { return nil }
func (discard) WriteWay(*entity.Way) error { return nil }
func (discard) WriteRelation(*entity.Relation) error { return nil }
func (discard) WriteEnd() error { return nil }

package stream

import (
	"context"
	"time"

	"github.com/wegman-software/vexd/internal/entity"
)

// Buffer is an in-memory Sink that keeps everything written to it. It is also a
// Source replaying the buffered stream.
type Buffer struct {
	Began     bool
	Ended     bool
	Timestamp time.Time
	URL       string
	Nodes     []*entity.Node
	Ways      []*entity.Way
	Relations []*entity.Relation
}

func (b *Buffer) WriteBegin() error {
	b.Began = true
	return nil
}

func (b *Buffer) SetReplicationTimestamp(ts time.Time) error {
	b.Timestamp = ts
	return nil
}

func (b *Buffer) SetReplicationURL(url string) error {
	b.URL = url
	return nil
}

func (b *Buffer) WriteNode(n *entity.Node) error {
	b.Nodes = append(b.Nodes, n)
	return nil
}

func (b *Buffer) WriteWay(w *entity.Way) error {
	b.Ways = append(b.Ways, w)
	return nil
}

func (b *Buffer) WriteRelation(r *entity.Relation) error {
	b.Relations = append(b.Relations, r)
	return nil
}

func (b *Buffer) WriteEnd() error {
	b.Ended = true
	return nil
}

func (b *Buffer) ReplicationURL() string {
	return b.URL
}

// CopyTo replays the buffer into sink
func (b *Buffer) CopyTo(ctx context.Context, sink Sink) error {
	if err := sink.WriteBegin(); err != nil {
		return err
	}
	if !b.Timestamp.IsZero() {
		if err := sink.SetReplicationTimestamp(b.Timestamp); err != nil {
			return err
		}
	}
	if b.URL != "" {
		if err := sink.SetReplicationURL(b.URL); err != nil {
			return err
		}
	}
	if err := WriteAll(ctx, sink, b.Nodes, b.Ways, b.Relations); err != nil {
		return err
	}
	return sink.WriteEnd()
}

// WriteAll writes the given entities in node, way, relation order, checking ctx
// between batches of entities
func WriteAll(ctx context.Context, w EntityWriter, nodes []*entity.Node, ways []*entity.Way, relations []*entity.Relation) error {
	for i, n := range nodes {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := w.WriteNode(n); err != nil {
			return err
		}
	}
	for i, way := range ways {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := w.WriteWay(way); err != nil {
			return err
		}
	}
	for i, r := range relations {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := w.WriteRelation(r); err != nil {
			return err
		}
	}
	return nil
}

const checkEvery = 1024

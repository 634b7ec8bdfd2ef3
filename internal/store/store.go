// Package store defines the live entity store shared by the replication
// updater and the extract service, plus stream adapters over it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/stream"
)

// ErrCursorBackwards is returned when a replication timestamp older than the
// stored one is written
var ErrCursorBackwards = errors.New("store: replication cursor cannot move backwards")

// Store is a long-lived entity store. Implementations allow concurrent readers
// and a single writer; each upsert is atomic per entity.
type Store interface {
	// ReplicationTimestamp returns the cursor, or the zero time if unset.
	ReplicationTimestamp(ctx context.Context) (time.Time, error)
	SetReplicationTimestamp(ctx context.Context, ts time.Time) error

	// ReplicationBaseURL returns the replication root override, or "".
	ReplicationBaseURL(ctx context.Context) (string, error)
	SetReplicationBaseURL(ctx context.Context, url string) error

	UpsertNode(ctx context.Context, n *entity.Node) error
	UpsertWay(ctx context.Context, w *entity.Way) error
	UpsertRelation(ctx context.Context, r *entity.Relation) error

	// Nodes returns the stored nodes among ids. Unknown ids are skipped.
	Nodes(ctx context.Context, ids []int64) ([]*entity.Node, error)

	// QueryBoundingBox writes the nodes inside box, the ways referencing any
	// of them, the relations with any of those as a direct member, and every
	// node referenced by a written way. Output is in node, way, relation order.
	QueryBoundingBox(ctx context.Context, box geo.BoundingBox, w stream.EntityWriter) error

	Close() error
}

// CheckCursor returns ErrCursorBackwards when next is before current
func CheckCursor(current, next time.Time) error {
	if next.Before(current) {
		return fmt.Errorf("%w: %s < %s", ErrCursorBackwards,
			next.UTC().Format(time.RFC3339), current.UTC().Format(time.RFC3339))
	}
	return nil
}

// BoxSource returns a stream.Source over the entities of st inside box. The
// stream carries the store's cursor and base URL.
func BoxSource(st Store, box geo.BoundingBox) stream.Source {
	return &boxSource{st: st, box: box}
}

type boxSource struct {
	st  Store
	box geo.BoundingBox
}

func (s *boxSource) ReplicationURL() string {
	url, err := s.st.ReplicationBaseURL(context.Background())
	if err != nil {
		return ""
	}
	return url
}

func (s *boxSource) CopyTo(ctx context.Context, sink stream.Sink) error {
	if err := s.box.Validate(); err != nil {
		return err
	}
	ts, err := s.st.ReplicationTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("read replication timestamp: %w", err)
	}
	url, err := s.st.ReplicationBaseURL(ctx)
	if err != nil {
		return fmt.Errorf("read replication url: %w", err)
	}

	if err := sink.WriteBegin(); err != nil {
		return err
	}
	if !ts.IsZero() {
		if err := sink.SetReplicationTimestamp(ts); err != nil {
			return err
		}
	}
	if url != "" {
		if err := sink.SetReplicationURL(url); err != nil {
			return err
		}
	}
	if err := s.st.QueryBoundingBox(ctx, s.box, sink); err != nil {
		return err
	}
	return sink.WriteEnd()
}

// Loader returns a stream.Sink that upserts every entity it receives into st.
// At WriteEnd the stream's replication timestamp and URL are stored, the
// timestamp only when it is newer than the current cursor.
func Loader(ctx context.Context, st Store) stream.Sink {
	return &loader{ctx: ctx, st: st}
}

type loader struct {
	ctx context.Context
	st  Store
	ts  time.Time
	url string
}

func (l *loader) WriteBegin() error { return nil }

func (l *loader) SetReplicationTimestamp(ts time.Time) error {
	l.ts = ts
	return nil
}

func (l *loader) SetReplicationURL(url string) error {
	l.url = url
	return nil
}

func (l *loader) WriteNode(n *entity.Node) error {
	return l.st.UpsertNode(l.ctx, n)
}

func (l *loader) WriteWay(w *entity.Way) error {
	return l.st.UpsertWay(l.ctx, w)
}

func (l *loader) WriteRelation(r *entity.Relation) error {
	return l.st.UpsertRelation(l.ctx, r)
}

func (l *loader) WriteEnd() error {
	if l.url != "" {
		if err := l.st.SetReplicationBaseURL(l.ctx, l.url); err != nil {
			return fmt.Errorf("store replication url: %w", err)
		}
	}
	if l.ts.IsZero() {
		return nil
	}
	current, err := l.st.ReplicationTimestamp(l.ctx)
	if err != nil {
		return fmt.Errorf("read replication timestamp: %w", err)
	}
	if !l.ts.After(current) {
		return nil
	}
	if err := l.st.SetReplicationTimestamp(l.ctx, l.ts); err != nil {
		return fmt.Errorf("store replication timestamp: %w", err)
	}
	return nil
}

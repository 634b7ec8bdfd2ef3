package codec

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/paulmach/osm"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/stream"
)

func fromOSMTags(tags osm.Tags) entity.Tags {
	if len(tags) == 0 {
		return nil
	}
	out := make(entity.Tags, len(tags))
	for i, t := range tags {
		out[i] = entity.Tag{Key: t.Key, Value: t.Value}
	}
	return out
}

// FromOSMNode converts a paulmach/osm node
func FromOSMNode(n *osm.Node) *entity.Node {
	return &entity.Node{
		ID:   int64(n.ID),
		Lat:  n.Lat,
		Lon:  n.Lon,
		Tags: fromOSMTags(n.Tags),
	}
}

// FromOSMWay converts a paulmach/osm way
func FromOSMWay(w *osm.Way) *entity.Way {
	refs := make([]int64, len(w.Nodes))
	for i, wn := range w.Nodes {
		refs[i] = int64(wn.ID)
	}
	return &entity.Way{
		ID:    int64(w.ID),
		Nodes: refs,
		Tags:  fromOSMTags(w.Tags),
	}
}

// FromOSMRelation converts a paulmach/osm relation
func FromOSMRelation(r *osm.Relation) (*entity.Relation, error) {
	members := make([]entity.Member, len(r.Members))
	for i, m := range r.Members {
		mt, err := entity.ParseMemberType(string(m.Type))
		if err != nil {
			return nil, fmt.Errorf("relation %d: %w", r.ID, err)
		}
		members[i] = entity.Member{Type: mt, Ref: m.Ref, Role: m.Role}
	}
	return &entity.Relation{
		ID:      int64(r.ID),
		Members: members,
		Tags:    fromOSMTags(r.Tags),
	}, nil
}

// CopyScanner drains an osm.Scanner into sink. Objects must arrive sorted as
// nodes, ways, relations. On any scan or conversion error the sink is left
// without WriteEnd.
func CopyScanner(ctx context.Context, scanner osm.Scanner, sink stream.Sink, ts time.Time, url string) error {
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

	// 0 nodes, 1 ways, 2 relations
	rank := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch o := scanner.Object().(type) {
		case *osm.Node:
			if rank > 0 {
				return fmt.Errorf("%w: node %d after ways or relations", stream.ErrOutOfOrder, o.ID)
			}
			err = sink.WriteNode(FromOSMNode(o))
		case *osm.Way:
			if rank > 1 {
				return fmt.Errorf("%w: way %d after relations", stream.ErrOutOfOrder, o.ID)
			}
			rank = 1
			err = sink.WriteWay(FromOSMWay(o))
		case *osm.Relation:
			rank = 2
			var rel *entity.Relation
			if rel, err = FromOSMRelation(o); err == nil {
				err = sink.WriteRelation(rel)
			}
		}
		if err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("decode failed: %w", err)
	}
	return sink.WriteEnd()
}

// Package memory is an in-process Store backed by maps, with a tile index for
// bounding box queries. It can be persisted to and restored from a VEX snapshot.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/stream"
	"github.com/wegman-software/vexd/internal/tile"
)

// IndexZoom is the zoom level of the node tile index
const IndexZoom = 12

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("memory store: closed")

type set map[int64]struct{}

func (s set) add(id int64) { s[id] = struct{}{} }

type memberKey struct {
	typ entity.MemberType
	ref int64
}

// Store is a map-backed store.Store
type Store struct {
	mu sync.RWMutex

	nodes     map[int64]*entity.Node
	ways      map[int64]*entity.Way
	relations map[int64]*entity.Relation

	tiles    map[uint64]set    // packed tile -> node ids
	nodeWays map[int64]set     // node id -> way ids
	members  map[memberKey]set // member -> relation ids

	ts     time.Time
	url    string
	closed bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		nodes:     make(map[int64]*entity.Node),
		ways:      make(map[int64]*entity.Way),
		relations: make(map[int64]*entity.Relation),
		tiles:     make(map[uint64]set),
		nodeWays:  make(map[int64]set),
		members:   make(map[memberKey]set),
	}
}

func (s *Store) ReplicationTimestamp(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, ErrClosed
	}
	return s.ts, nil
}

func (s *Store) SetReplicationTimestamp(ctx context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := store.CheckCursor(s.ts, ts); err != nil {
		return err
	}
	s.ts = ts.UTC()
	return nil
}

func (s *Store) ReplicationBaseURL(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.url, nil
}

func (s *Store) SetReplicationBaseURL(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.url = url
	return nil
}

func (s *Store) UpsertNode(ctx context.Context, n *entity.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if old, ok := s.nodes[n.ID]; ok {
		key := nodeTile(old)
		if ids := s.tiles[key]; ids != nil {
			delete(ids, old.ID)
			if len(ids) == 0 {
				delete(s.tiles, key)
			}
		}
	}

	s.nodes[n.ID] = n
	key := nodeTile(n)
	ids := s.tiles[key]
	if ids == nil {
		ids = make(set)
		s.tiles[key] = ids
	}
	ids.add(n.ID)
	return nil
}

func (s *Store) UpsertWay(ctx context.Context, w *entity.Way) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if old, ok := s.ways[w.ID]; ok {
		for _, ref := range old.Nodes {
			unlink(s.nodeWays, ref, old.ID)
		}
	}

	s.ways[w.ID] = w
	for _, ref := range w.Nodes {
		link(s.nodeWays, ref, w.ID)
	}
	return nil
}

func (s *Store) UpsertRelation(ctx context.Context, r *entity.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if old, ok := s.relations[r.ID]; ok {
		for _, m := range old.Members {
			unlink(s.members, memberKey{m.Type, m.Ref}, old.ID)
		}
	}

	s.relations[r.ID] = r
	for _, m := range r.Members {
		link(s.members, memberKey{m.Type, m.Ref}, r.ID)
	}
	return nil
}

func (s *Store) Nodes(ctx context.Context, ids []int64) ([]*entity.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	nodes := make([]*entity.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func link[K comparable](index map[K]set, key K, id int64) {
	ids := index[key]
	if ids == nil {
		ids = make(set)
		index[key] = ids
	}
	ids.add(id)
}

func unlink[K comparable](index map[K]set, key K, id int64) {
	ids := index[key]
	if ids == nil {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(index, key)
	}
}

func nodeTile(n *entity.Node) uint64 {
	return tile.LatLonToTile(n.Lat, n.Lon, IndexZoom).Pack()
}

func (s *Store) QueryBoundingBox(ctx context.Context, box geo.BoundingBox, w stream.EntityWriter) error {
	if err := box.Validate(); err != nil {
		return err
	}
	nodes, ways, relations, err := s.collect(box)
	if err != nil {
		return err
	}
	return stream.WriteAll(ctx, w, nodes, ways, relations)
}

// collect selects the result under the read lock. Writing happens after the
// lock is released so a slow client never blocks the updater.
func (s *Store) collect(box geo.BoundingBox) ([]*entity.Node, []*entity.Way, []*entity.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, nil, ErrClosed
	}

	inside := make(set)
	scan := func(ids set) {
		for id := range ids {
			if n := s.nodes[id]; n != nil && box.Contains(n.Lat, n.Lon) {
				inside.add(id)
			}
		}
	}

	r := tile.RangeFor(box, IndexZoom)
	if r.Count() > len(s.tiles) {
		for key, ids := range s.tiles {
			if r.Contains(tile.Unpack(key)) {
				scan(ids)
			}
		}
	} else {
		for x := r.MinX; x <= r.MaxX; x++ {
			for y := r.MinY; y <= r.MaxY; y++ {
				if ids := s.tiles[tile.Tile{Z: IndexZoom, X: x, Y: y}.Pack()]; ids != nil {
					scan(ids)
				}
			}
		}
	}

	wayIDs := make(set)
	relIDs := make(set)
	for id := range inside {
		for wid := range s.nodeWays[id] {
			wayIDs.add(wid)
		}
		for rid := range s.members[memberKey{entity.MemberNode, id}] {
			relIDs.add(rid)
		}
	}
	for wid := range wayIDs {
		for rid := range s.members[memberKey{entity.MemberWay, wid}] {
			relIDs.add(rid)
		}
	}

	nodeIDs := inside
	for wid := range wayIDs {
		for _, ref := range s.ways[wid].Nodes {
			nodeIDs.add(ref)
		}
	}

	nodes := make([]*entity.Node, 0, len(nodeIDs))
	for _, id := range sorted(nodeIDs) {
		// ways may reference nodes the store never received
		if n := s.nodes[id]; n != nil {
			nodes = append(nodes, n)
		}
	}
	ways := make([]*entity.Way, 0, len(wayIDs))
	for _, id := range sorted(wayIDs) {
		ways = append(ways, s.ways[id])
	}
	relations := make([]*entity.Relation, 0, len(relIDs))
	for _, id := range sorted(relIDs) {
		relations = append(relations, s.relations[id])
	}
	return nodes, ways, relations, nil
}

func sorted(ids set) []int64 {
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Counts returns the number of stored entities per kind
func (s *Store) Counts() stream.Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stream.Counts{
		Nodes:     int64(len(s.nodes)),
		Ways:      int64(len(s.ways)),
		Relations: int64(len(s.relations)),
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

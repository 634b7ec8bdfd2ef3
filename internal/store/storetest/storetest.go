// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/stream"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Box is the query window used by the fixture
var Box = geo.BoundingBox{MinLat: 10, MinLon: 20, MaxLat: 11, MaxLon: 21}

// Run exercises st against the store contract
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"Cursor", testCursor},
		{"BaseURL", testBaseURL},
		{"EmptyQuery", testEmptyQuery},
		{"QueryClosure", testQueryClosure},
		{"NodeMoved", testNodeMoved},
		{"WayReplaced", testWayReplaced},
		{"RelationReplaced", testRelationReplaced},
		{"UpsertIdempotent", testUpsertIdempotent},
		{"NodeLookup", testNodeLookup},
		{"InvalidBox", testInvalidBox},
		{"ConcurrentReaders", testConcurrentReaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStore(t)
			t.Cleanup(func() { st.Close() })
			tt.fn(t, st)
		})
	}
}

// Load writes the fixture into st:
//
//	nodes 1,2 inside Box, 3,4 outside
//	way 10 = [1 3], way 11 = [3 4]
//	relation 100 has node 2, 101 has way 10, 102 has way 11, 103 has relation 100
func Load(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	nodes := []*entity.Node{
		{ID: 1, Lat: 10.5, Lon: 20.5, Tags: entity.Tags{{Key: "amenity", Value: "cafe"}, {Key: "name", Value: "Inside"}}},
		{ID: 2, Lat: 10.75, Lon: 20.25},
		{ID: 3, Lat: 50, Lon: 50},
		{ID: 4, Lat: -30, Lon: -30},
	}
	for _, n := range nodes {
		require.NoError(t, st.UpsertNode(ctx, n))
	}
	ways := []*entity.Way{
		{ID: 10, Nodes: []int64{1, 3}, Tags: entity.Tags{{Key: "highway", Value: "residential"}}},
		{ID: 11, Nodes: []int64{3, 4}},
	}
	for _, w := range ways {
		require.NoError(t, st.UpsertWay(ctx, w))
	}
	relations := []*entity.Relation{
		{ID: 100, Members: []entity.Member{{Type: entity.MemberNode, Ref: 2, Role: "label"}}},
		{ID: 101, Members: []entity.Member{{Type: entity.MemberWay, Ref: 10, Role: "outer"}}, Tags: entity.Tags{{Key: "type", Value: "multipolygon"}}},
		{ID: 102, Members: []entity.Member{{Type: entity.MemberWay, Ref: 11}}},
		{ID: 103, Members: []entity.Member{{Type: entity.MemberRelation, Ref: 100}}},
	}
	for _, r := range relations {
		require.NoError(t, st.UpsertRelation(ctx, r))
	}
}

// Query runs a bounding box query into a buffer
func Query(t *testing.T, st store.Store, box geo.BoundingBox) *stream.Buffer {
	t.Helper()
	var buf stream.Buffer
	require.NoError(t, st.QueryBoundingBox(context.Background(), box, &buf))
	return &buf
}

// IDs returns the node, way and relation ids of buf
func IDs(buf *stream.Buffer) (nodes, ways, relations []int64) {
	nodes, ways, relations = []int64{}, []int64{}, []int64{}
	for _, n := range buf.Nodes {
		nodes = append(nodes, n.ID)
	}
	for _, w := range buf.Ways {
		ways = append(ways, w.ID)
	}
	for _, r := range buf.Relations {
		relations = append(relations, r.ID)
	}
	return nodes, ways, relations
}

func testCursor(t *testing.T, st store.Store) {
	ctx := context.Background()

	ts, err := st.ReplicationTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, ts.IsZero(), "new store cursor = %s", ts)

	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetReplicationTimestamp(ctx, first))
	ts, err = st.ReplicationTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, first.Equal(ts), "cursor = %s, want %s", ts, first)

	require.NoError(t, st.SetReplicationTimestamp(ctx, first), "same timestamp is not a backward move")

	err = st.SetReplicationTimestamp(ctx, first.Add(-time.Hour))
	require.ErrorIs(t, err, store.ErrCursorBackwards)

	ts, err = st.ReplicationTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, first.Equal(ts), "rejected write changed cursor to %s", ts)

	later := first.Add(time.Hour)
	require.NoError(t, st.SetReplicationTimestamp(ctx, later))
	ts, err = st.ReplicationTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, later.Equal(ts))
}

func testBaseURL(t *testing.T, st store.Store) {
	ctx := context.Background()

	url, err := st.ReplicationBaseURL(ctx)
	require.NoError(t, err)
	assert.Empty(t, url)

	require.NoError(t, st.SetReplicationBaseURL(ctx, "https://download.example.org/europe/monaco-updates/"))
	url, err = st.ReplicationBaseURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://download.example.org/europe/monaco-updates/", url)
}

func testEmptyQuery(t *testing.T, st store.Store) {
	nodes, ways, relations := IDs(Query(t, st, geo.World))
	assert.Empty(t, nodes)
	assert.Empty(t, ways)
	assert.Empty(t, relations)
}

func testQueryClosure(t *testing.T, st store.Store) {
	Load(t, st)
	buf := Query(t, st, Box)

	nodes, ways, relations := IDs(buf)
	assert.Equal(t, []int64{1, 2, 3}, nodes, "box nodes plus the nodes of selected ways")
	assert.Equal(t, []int64{10}, ways)
	assert.Equal(t, []int64{100, 101}, relations, "only relations with a selected direct member")

	n := buf.Nodes[0]
	assert.InDelta(t, 10.5, n.Lat, 1e-7)
	assert.InDelta(t, 20.5, n.Lon, 1e-7)
	assert.Equal(t, entity.Tags{{Key: "amenity", Value: "cafe"}, {Key: "name", Value: "Inside"}}, n.Tags)

	assert.Equal(t, []int64{1, 3}, buf.Ways[0].Nodes)
	assert.Equal(t, "residential", buf.Ways[0].Tags.Map()["highway"])

	rel := buf.Relations[1]
	require.Len(t, rel.Members, 1)
	assert.Equal(t, entity.Member{Type: entity.MemberWay, Ref: 10, Role: "outer"}, rel.Members[0])

	all := Query(t, st, geo.World)
	nodes, ways, relations = IDs(all)
	assert.Equal(t, []int64{1, 2, 3, 4}, nodes)
	assert.Equal(t, []int64{10, 11}, ways)
	assert.Equal(t, []int64{100, 101, 102}, relations)
}

func testNodeMoved(t *testing.T, st store.Store) {
	Load(t, st)
	ctx := context.Background()
	require.NoError(t, st.UpsertNode(ctx, &entity.Node{ID: 2, Lat: -10, Lon: -10}))

	nodes, ways, relations := IDs(Query(t, st, Box))
	assert.Equal(t, []int64{1, 3}, nodes)
	assert.Equal(t, []int64{10}, ways)
	assert.Equal(t, []int64{101}, relations)

	nodes, _, relations = IDs(Query(t, st, geo.BoundingBox{MinLat: -11, MinLon: -11, MaxLat: -9, MaxLon: -9}))
	assert.Equal(t, []int64{2}, nodes)
	assert.Equal(t, []int64{100}, relations)
}

func testWayReplaced(t *testing.T, st store.Store) {
	Load(t, st)
	ctx := context.Background()
	require.NoError(t, st.UpsertWay(ctx, &entity.Way{ID: 10, Nodes: []int64{3, 4}}))

	nodes, ways, relations := IDs(Query(t, st, Box))
	assert.Equal(t, []int64{1, 2}, nodes)
	assert.Empty(t, ways)
	assert.Equal(t, []int64{100}, relations)
}

func testRelationReplaced(t *testing.T, st store.Store) {
	Load(t, st)
	ctx := context.Background()
	require.NoError(t, st.UpsertRelation(ctx, &entity.Relation{
		ID:      100,
		Members: []entity.Member{{Type: entity.MemberNode, Ref: 4}},
	}))

	_, _, relations := IDs(Query(t, st, Box))
	assert.Equal(t, []int64{101}, relations)
}

func testUpsertIdempotent(t *testing.T, st store.Store) {
	Load(t, st)
	first := Query(t, st, geo.World)
	Load(t, st)
	second := Query(t, st, geo.World)

	n1, w1, r1 := IDs(first)
	n2, w2, r2 := IDs(second)
	assert.Equal(t, n1, n2)
	assert.Equal(t, w1, w2)
	assert.Equal(t, r1, r2)
}

func testNodeLookup(t *testing.T, st store.Store) {
	Load(t, st)
	nodes, err := st.Nodes(context.Background(), []int64{4, 1, 999})
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	byID := make(map[int64]*entity.Node)
	for _, n := range nodes {
		byID[n.ID] = n
	}
	require.Contains(t, byID, int64(1))
	require.Contains(t, byID, int64(4))
	assert.InDelta(t, -30, byID[4].Lat, 1e-7)
	assert.InDelta(t, -30, byID[4].Lon, 1e-7)

	nodes, err = st.Nodes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func testInvalidBox(t *testing.T, st store.Store) {
	var buf stream.Buffer
	err := st.QueryBoundingBox(context.Background(), geo.BoundingBox{MinLat: 10, MinLon: 10, MaxLat: 5, MaxLon: 20}, &buf)
	require.ErrorIs(t, err, geo.ErrInvalidBox)
}

func testConcurrentReaders(t *testing.T, st store.Store) {
	Load(t, st)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				var buf stream.Buffer
				if err := st.QueryBoundingBox(ctx, Box, &buf); err != nil {
					t.Errorf("query: %v", err)
					return
				}
				if len(buf.Ways) > 0 && len(buf.Nodes) < 2 {
					t.Errorf("way without its nodes: %d nodes", len(buf.Nodes))
					return
				}
			}
		}()
	}
	for i := int64(0); i < 20; i++ {
		lat := 10.1 + float64(i)/100
		if err := st.UpsertNode(ctx, &entity.Node{ID: 1000 + i, Lat: lat, Lon: 20.1}); err != nil {
			t.Errorf("upsert: %v", err)
		}
	}
	wg.Wait()
}

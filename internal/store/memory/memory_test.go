package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/store/storetest"
	"github.com/wegman-software/vexd/internal/stream"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestTileIndexFollowsMoves(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertNode(ctx, &entity.Node{ID: 1, Lat: 43.73, Lon: 7.42}))
	require.Len(t, s.tiles, 1)

	require.NoError(t, s.UpsertNode(ctx, &entity.Node{ID: 1, Lat: -33.86, Lon: 151.2}))
	assert.Len(t, s.tiles, 1, "old tile entry should be dropped")

	require.NoError(t, s.UpsertWay(ctx, &entity.Way{ID: 5, Nodes: []int64{1, 2}}))
	require.NoError(t, s.UpsertWay(ctx, &entity.Way{ID: 5, Nodes: []int64{2}}))
	assert.NotContains(t, s.nodeWays, int64(1))
	assert.Contains(t, s.nodeWays[2], int64(5))
}

func TestSmallBoxUsesTileRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	// many populated tiles so the range walk is cheaper than a full scan
	for i := int64(0); i < 200; i++ {
		require.NoError(t, s.UpsertNode(ctx, &entity.Node{ID: i, Lat: -60 + float64(i)*0.6, Lon: -170 + float64(i)*1.7}))
	}
	require.NoError(t, s.UpsertNode(ctx, &entity.Node{ID: 999, Lat: 43.7384, Lon: 7.4246}))

	box := geo.BoundingBox{MinLat: 43.72, MinLon: 7.40, MaxLat: 43.76, MaxLon: 7.44}
	nodes, _, _ := storetest.IDs(storetest.Query(t, s, box))
	assert.Equal(t, []int64{999}, nodes)
}

func TestWayWithMissingNode(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertNode(ctx, &entity.Node{ID: 1, Lat: 10.5, Lon: 20.5}))
	require.NoError(t, s.UpsertWay(ctx, &entity.Way{ID: 10, Nodes: []int64{1, 77}}))

	nodes, ways, _ := storetest.IDs(storetest.Query(t, s, storetest.Box))
	assert.Equal(t, []int64{1}, nodes)
	assert.Equal(t, []int64{10}, ways)
}

func TestClosed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.UpsertNode(ctx, &entity.Node{ID: 1}), ErrClosed)
	_, err := s.ReplicationTimestamp(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.QueryBoundingBox(ctx, geo.World, stream.Discard), ErrClosed)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	storetest.Load(t, s)
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetReplicationTimestamp(ctx, ts))
	require.NoError(t, s.SetReplicationBaseURL(ctx, "https://planet.openstreetmap.org/replication/hour/"))

	path := filepath.Join(t.TempDir(), "store.vex")
	require.NoError(t, s.Save(ctx, path))

	restored, err := Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, s.Counts(), restored.Counts())

	got, err := restored.ReplicationTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got), "cursor = %s", got)
	url, err := restored.ReplicationBaseURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://planet.openstreetmap.org/replication/hour/", url)

	nodes, ways, relations := storetest.IDs(storetest.Query(t, restored, storetest.Box))
	assert.Equal(t, []int64{1, 2, 3}, nodes)
	assert.Equal(t, []int64{10}, ways)
	assert.Equal(t, []int64{100, 101}, relations)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestOpenMissingSnapshot(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent.vex"))
	require.NoError(t, err)
	assert.Zero(t, s.Counts().Total())
}

func TestOpenCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.vex")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))
	_, err := Open(context.Background(), path)
	assert.Error(t, err)
}

func TestAllSource(t *testing.T) {
	s := New()
	storetest.Load(t, s)

	var buf stream.Buffer
	require.NoError(t, s.All().CopyTo(context.Background(), stream.Guard(&buf)))
	assert.True(t, buf.Ended)
	nodes, ways, relations := storetest.IDs(&buf)
	assert.Equal(t, []int64{1, 2, 3, 4}, nodes)
	assert.Equal(t, []int64{10, 11}, ways)
	assert.Equal(t, []int64{100, 101, 102, 103}, relations)
}

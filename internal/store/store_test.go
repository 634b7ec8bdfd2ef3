package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/store/memory"
	"github.com/wegman-software/vexd/internal/store/storetest"
	"github.com/wegman-software/vexd/internal/stream"
)

func TestCheckCursor(t *testing.T) {
	now := time.Now()
	assert.NoError(t, store.CheckCursor(time.Time{}, now))
	assert.NoError(t, store.CheckCursor(now, now))
	assert.ErrorIs(t, store.CheckCursor(now, now.Add(-time.Second)), store.ErrCursorBackwards)
}

func TestBoxSource(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	storetest.Load(t, st)
	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetReplicationTimestamp(ctx, ts))
	require.NoError(t, st.SetReplicationBaseURL(ctx, "https://example.org/replication/"))

	src := store.BoxSource(st, storetest.Box)
	assert.Equal(t, "https://example.org/replication/", src.ReplicationURL())

	var buf stream.Buffer
	require.NoError(t, src.CopyTo(ctx, stream.Guard(&buf)))
	assert.True(t, buf.Began)
	assert.True(t, buf.Ended)
	assert.True(t, ts.Equal(buf.Timestamp))
	assert.Equal(t, "https://example.org/replication/", buf.URL)

	nodes, ways, relations := storetest.IDs(&buf)
	assert.Equal(t, []int64{1, 2, 3}, nodes)
	assert.Equal(t, []int64{10}, ways)
	assert.Equal(t, []int64{100, 101}, relations)
}

func TestBoxSourceInvalidBox(t *testing.T) {
	var buf stream.Buffer
	err := store.BoxSource(memory.New(), geo.BoundingBox{MinLat: -91}).CopyTo(context.Background(), &buf)
	require.ErrorIs(t, err, geo.ErrInvalidBox)
	assert.False(t, buf.Began)
}

func TestBoxSourceNoEndOnFailure(t *testing.T) {
	st := memory.New()
	storetest.Load(t, st)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf stream.Buffer
	err := store.BoxSource(st, storetest.Box).CopyTo(ctx, &buf)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, buf.Ended)
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ts := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	src := &stream.Buffer{
		Timestamp: ts,
		URL:       "https://example.org/updates/",
		Nodes:     []*entity.Node{{ID: 1, Lat: 10.5, Lon: 20.5}},
		Ways:      []*entity.Way{{ID: 2, Nodes: []int64{1}}},
		Relations: []*entity.Relation{{ID: 3, Members: []entity.Member{{Type: entity.MemberWay, Ref: 2}}}},
	}
	require.NoError(t, src.CopyTo(ctx, stream.Guard(store.Loader(ctx, st))))

	got, err := st.ReplicationTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
	url, err := st.ReplicationBaseURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/updates/", url)
	assert.Equal(t, stream.Counts{Nodes: 1, Ways: 1, Relations: 1}, st.Counts())

	// an older file never moves the cursor back
	older := &stream.Buffer{Timestamp: ts.Add(-24 * time.Hour)}
	require.NoError(t, older.CopyTo(ctx, store.Loader(ctx, st)))
	got, err = st.ReplicationTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
}

package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vexd/internal/entity"
)

func TestGuardAcceptsContractOrder(t *testing.T) {
	buf := &Buffer{}
	g := Guard(buf)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, g.WriteBegin())
	require.NoError(t, g.SetReplicationTimestamp(ts))
	require.NoError(t, g.SetReplicationURL("https://planet.example.org/replication/hour"))
	require.NoError(t, g.WriteNode(&entity.Node{ID: 1}))
	require.NoError(t, g.WriteNode(&entity.Node{ID: 2}))
	require.NoError(t, g.WriteWay(&entity.Way{ID: 10, Nodes: []int64{1, 2}}))
	require.NoError(t, g.WriteRelation(&entity.Relation{ID: 100}))
	require.NoError(t, g.WriteEnd())

	assert.True(t, g.Ended())
	assert.True(t, buf.Began)
	assert.True(t, buf.Ended)
	assert.Equal(t, ts, buf.Timestamp)
	assert.Len(t, buf.Nodes, 2)
	assert.Len(t, buf.Ways, 1)
	assert.Len(t, buf.Relations, 1)
}

func TestGuardRejectsViolations(t *testing.T) {
	tests := []struct {
		name string
		run  func(g *GuardedSink) error
		want error
	}{
		{
			name: "node before begin",
			run:  func(g *GuardedSink) error { return g.WriteNode(&entity.Node{ID: 1}) },
			want: ErrNotStarted,
		},
		{
			name: "node after way",
			run: func(g *GuardedSink) error {
				_ = g.WriteBegin()
				_ = g.WriteWay(&entity.Way{ID: 1})
				return g.WriteNode(&entity.Node{ID: 1})
			},
			want: ErrOutOfOrder,
		},
		{
			name: "way after relation",
			run: func(g *GuardedSink) error {
				_ = g.WriteBegin()
				_ = g.WriteRelation(&entity.Relation{ID: 1})
				return g.WriteWay(&entity.Way{ID: 1})
			},
			want: ErrOutOfOrder,
		},
		{
			name: "timestamp after first entity",
			run: func(g *GuardedSink) error {
				_ = g.WriteBegin()
				_ = g.WriteNode(&entity.Node{ID: 1})
				return g.SetReplicationTimestamp(time.Now())
			},
			want: ErrLateReplicationInfo,
		},
		{
			name: "url after first entity",
			run: func(g *GuardedSink) error {
				_ = g.WriteBegin()
				_ = g.WriteWay(&entity.Way{ID: 1})
				return g.SetReplicationURL("http://example.org")
			},
			want: ErrLateReplicationInfo,
		},
		{
			name: "write after end",
			run: func(g *GuardedSink) error {
				_ = g.WriteBegin()
				_ = g.WriteEnd()
				return g.WriteRelation(&entity.Relation{ID: 1})
			},
			want: ErrWriteAfterEnd,
		},
		{
			name: "end twice",
			run: func(g *GuardedSink) error {
				_ = g.WriteBegin()
				_ = g.WriteEnd()
				return g.WriteEnd()
			},
			want: ErrWriteAfterEnd,
		},
		{
			name: "begin twice",
			run: func(g *GuardedSink) error {
				_ = g.WriteBegin()
				return g.WriteBegin()
			},
			want: ErrOutOfOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(Guard(&Buffer{}))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGuardDoesNotDoubleWrap(t *testing.T) {
	g := Guard(&Buffer{})
	assert.Same(t, g, Guard(g))
}

type failingSink struct {
	Buffer
	failOn int64
}

func (f *failingSink) WriteNode(n *entity.Node) error {
	if n.ID == f.failOn {
		return errors.New("disk full")
	}
	return f.Buffer.WriteNode(n)
}

func TestCounter(t *testing.T) {
	c := NewCounter(&failingSink{failOn: 3})
	require.NoError(t, c.WriteBegin())
	require.NoError(t, c.WriteNode(&entity.Node{ID: 1}))
	require.NoError(t, c.WriteNode(&entity.Node{ID: 2}))
	require.Error(t, c.WriteNode(&entity.Node{ID: 3}))
	require.NoError(t, c.WriteWay(&entity.Way{ID: 1}))
	require.NoError(t, c.WriteRelation(&entity.Relation{ID: 1}))

	counts := c.Counts()
	assert.Equal(t, Counts{Nodes: 2, Ways: 1, Relations: 1}, counts)
	assert.EqualValues(t, 4, counts.Total())
}

func TestBufferReplay(t *testing.T) {
	src := &Buffer{
		Timestamp: time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC),
		URL:       "https://example.org/replication",
		Nodes:     []*entity.Node{{ID: 1, Lat: 1, Lon: 2}},
		Ways:      []*entity.Way{{ID: 2, Nodes: []int64{1}}},
		Relations: []*entity.Relation{{ID: 3, Members: []entity.Member{{Type: entity.MemberWay, Ref: 2, Role: "outer"}}}},
	}

	dst := &Buffer{}
	require.NoError(t, src.CopyTo(context.Background(), Guard(dst)))

	assert.True(t, dst.Began)
	assert.True(t, dst.Ended)
	assert.Equal(t, src.Timestamp, dst.Timestamp)
	assert.Equal(t, src.URL, dst.ReplicationURL())
	assert.Equal(t, src.Nodes, dst.Nodes)
	assert.Equal(t, src.Ways, dst.Ways)
	assert.Equal(t, src.Relations, dst.Relations)
}

func TestWriteAllHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := &Buffer{}
	err := WriteAll(ctx, buf, []*entity.Node{{ID: 1}}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.Nodes)
}

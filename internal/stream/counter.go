package stream

import (
	"sync/atomic"

	"github.com/wegman-software/vexd/internal/entity"
)

// Counts holds per-kind entity totals
type Counts struct {
	Nodes     int64
	Ways      int64
	Relations int64
}

// Total returns the sum of all kinds
func (c Counts) Total() int64 {
	return c.Nodes + c.Ways + c.Relations
}

// Counter is a Sink decorator counting entities as they pass through.
// Counts may be read concurrently while the stream is being written.
type Counter struct {
	Sink
	nodes     atomic.Int64
	ways      atomic.Int64
	relations atomic.Int64
}

// NewCounter wraps sink
func NewCounter(sink Sink) *Counter {
	return &Counter{Sink: sink}
}

func (c *Counter) WriteNode(n *entity.Node) error {
	if err := c.Sink.WriteNode(n); err != nil {
		return err
	}
	c.nodes.Add(1)
	return nil
}

func (c *Counter) WriteWay(w *entity.Way) error {
	if err := c.Sink.WriteWay(w); err != nil {
		return err
	}
	c.ways.Add(1)
	return nil
}

func (c *Counter) WriteRelation(r *entity.Relation) error {
	if err := c.Sink.WriteRelation(r); err != nil {
		return err
	}
	c.relations.Add(1)
	return nil
}

// Counts returns a snapshot of the totals
func (c *Counter) Counts() Counts {
	return Counts{
		Nodes:     c.nodes.Load(),
		Ways:      c.ways.Load(),
		Relations: c.relations.Load(),
	}
}

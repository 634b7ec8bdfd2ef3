package stream

import (
	"fmt"
	"time"

	"github.com/wegman-software/vexd/internal/entity"
)

type phase int

const (
	phaseIdle phase = iota
	phaseBegun
	phaseNodes
	phaseWays
	phaseRelations
	phaseEnded
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseBegun:
		return "begun"
	case phaseNodes:
		return "nodes"
	case phaseWays:
		return "ways"
	case phaseRelations:
		return "relations"
	case phaseEnded:
		return "ended"
	}
	return "unknown"
}

// GuardedSink wraps a Sink and rejects calls that break the stream contract
// before they reach the underlying sink. It is not safe for concurrent use.
type GuardedSink struct {
	sink  Sink
	phase phase
}

// Guard returns sink wrapped in a contract checker
func Guard(sink Sink) *GuardedSink {
	if g, ok := sink.(*GuardedSink); ok {
		return g
	}
	return &GuardedSink{sink: sink}
}

// Ended reports whether WriteEnd completed successfully
func (g *GuardedSink) Ended() bool {
	return g.phase == phaseEnded
}

func (g *GuardedSink) WriteBegin() error {
	switch g.phase {
	case phaseIdle:
	case phaseEnded:
		return ErrWriteAfterEnd
	default:
		return fmt.Errorf("%w: begin called twice", ErrOutOfOrder)
	}
	if err := g.sink.WriteBegin(); err != nil {
		return err
	}
	g.phase = phaseBegun
	return nil
}

func (g *GuardedSink) checkHeader() error {
	switch g.phase {
	case phaseBegun:
		return nil
	case phaseIdle:
		return ErrNotStarted
	case phaseEnded:
		return ErrWriteAfterEnd
	}
	return ErrLateReplicationInfo
}

func (g *GuardedSink) SetReplicationTimestamp(ts time.Time) error {
	if err := g.checkHeader(); err != nil {
		return err
	}
	return g.sink.SetReplicationTimestamp(ts)
}

func (g *GuardedSink) SetReplicationURL(url string) error {
	if err := g.checkHeader(); err != nil {
		return err
	}
	return g.sink.SetReplicationURL(url)
}

// advance moves to the entity phase want, failing if a later phase was already reached
func (g *GuardedSink) advance(want phase) error {
	switch {
	case g.phase == phaseIdle:
		return ErrNotStarted
	case g.phase == phaseEnded:
		return ErrWriteAfterEnd
	case g.phase > want:
		return fmt.Errorf("%w: %s written during %s", ErrOutOfOrder, want, g.phase)
	}
	g.phase = want
	return nil
}

func (g *GuardedSink) WriteNode(n *entity.Node) error {
	if err := g.advance(phaseNodes); err != nil {
		return err
	}
	return g.sink.WriteNode(n)
}

func (g *GuardedSink) WriteWay(w *entity.Way) error {
	if err := g.advance(phaseWays); err != nil {
		return err
	}
	return g.sink.WriteWay(w)
}

func (g *GuardedSink) WriteRelation(r *entity.Relation) error {
	if err := g.advance(phaseRelations); err != nil {
		return err
	}
	return g.sink.WriteRelation(r)
}

func (g *GuardedSink) WriteEnd() error {
	switch g.phase {
	case phaseIdle:
		return ErrNotStarted
	case phaseEnded:
		return ErrWriteAfterEnd
	}
	if err := g.sink.WriteEnd(); err != nil {
		return err
	}
	g.phase = phaseEnded
	return nil
}

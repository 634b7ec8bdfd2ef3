package osc

import (
	"github.com/wegman-software/vexd/internal/entity"
)

// Action represents the type of change in an OSC file
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
)

// Change is a single entity change. Exactly one of Node, Way and Relation is set.
type Change struct {
	Action   Action
	Node     *entity.Node
	Way      *entity.Way
	Relation *entity.Relation
}

// Kind returns "node", "way" or "relation"
func (c Change) Kind() string {
	switch {
	case c.Node != nil:
		return "node"
	case c.Way != nil:
		return "way"
	case c.Relation != nil:
		return "relation"
	}
	return ""
}

// ID returns the id of the changed entity
func (c Change) ID() int64 {
	switch {
	case c.Node != nil:
		return c.Node.ID
	case c.Way != nil:
		return c.Way.ID
	case c.Relation != nil:
		return c.Relation.ID
	}
	return 0
}

// Stats tracks OSC parsing statistics
type Stats struct {
	NodesCreated      int64
	NodesModified     int64
	NodesDeleted      int64
	WaysCreated       int64
	WaysModified      int64
	WaysDeleted       int64
	RelationsCreated  int64
	RelationsModified int64
	RelationsDeleted  int64
}

// Total returns total number of changes
func (s Stats) Total() int64 {
	return s.NodesCreated + s.NodesModified + s.NodesDeleted +
		s.WaysCreated + s.WaysModified + s.WaysDeleted +
		s.RelationsCreated + s.RelationsModified + s.RelationsDeleted
}

// Deleted returns the number of delete changes
func (s Stats) Deleted() int64 {
	return s.NodesDeleted + s.WaysDeleted + s.RelationsDeleted
}

func (s *Stats) add(c Change) {
	var counters [3]*int64
	switch c.Kind() {
	case "node":
		counters = [3]*int64{&s.NodesCreated, &s.NodesModified, &s.NodesDeleted}
	case "way":
		counters = [3]*int64{&s.WaysCreated, &s.WaysModified, &s.WaysDeleted}
	case "relation":
		counters = [3]*int64{&s.RelationsCreated, &s.RelationsModified, &s.RelationsDeleted}
	default:
		return
	}
	switch c.Action {
	case ActionCreate:
		*counters[0]++
	case ActionModify:
		*counters[1]++
	case ActionDelete:
		*counters[2]++
	}
}

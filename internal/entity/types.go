package entity

import "fmt"

// Tag is a single OSM key/value pair
type Tag struct {
	Key   string
	Value string
}

// Tags is an ordered list of tags. Order is preserved through every codec.
type Tags []Tag

// Get returns the value for key and whether it was present
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Map returns the tags as a map (last value wins on duplicate keys)
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t))
	for _, tag := range t {
		m[tag.Key] = tag.Value
	}
	return m
}

// Node is a point on the earth's surface
type Node struct {
	ID   int64
	Lat  float64
	Lon  float64
	Tags Tags
}

// Way is an ordered list of node references
type Way struct {
	ID    int64
	Nodes []int64 // ordered node ID array
	Tags  Tags
}

// MemberType identifies the kind of entity a relation member refers to
type MemberType uint8

const (
	MemberNode MemberType = iota
	MemberWay
	MemberRelation
)

// String returns "node", "way" or "relation"
func (m MemberType) String() string {
	switch m {
	case MemberNode:
		return "node"
	case MemberWay:
		return "way"
	case MemberRelation:
		return "relation"
	}
	return fmt.Sprintf("MemberType(%d)", uint8(m))
}

// ParseMemberType accepts the long ("way") and short ("w") spellings
func ParseMemberType(s string) (MemberType, error) {
	switch s {
	case "node", "n":
		return MemberNode, nil
	case "way", "w":
		return MemberWay, nil
	case "relation", "r":
		return MemberRelation, nil
	}
	return 0, fmt.Errorf("unknown member type %q", s)
}

// Member is a single relation member
type Member struct {
	Type MemberType
	Ref  int64
	Role string
}

// Relation groups other entities under a set of roles
type Relation struct {
	ID      int64
	Members []Member
	Tags    Tags
}

// ScaleCoord converts a float64 lat/lon to scaled integer (× 10^7)
func ScaleCoord(coord float64) int32 {
	if coord < 0 {
		return int32(coord*1e7 - 0.5)
	}
	return int32(coord*1e7 + 0.5)
}

// UnscaleCoord converts a scaled integer back to float64
func UnscaleCoord(scaled int32) float64 {
	return float64(scaled) / 1e7
}

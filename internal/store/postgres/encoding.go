package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/wegman-software/vexd/internal/entity"
)

// encodeTags stores tags as [[k, v], ...] so JSONB keeps their order.
// Empty tags become NULL.
func encodeTags(tags entity.Tags) []byte {
	if len(tags) == 0 {
		return nil
	}
	pairs := make([][2]string, len(tags))
	for i, t := range tags {
		pairs[i] = [2]string{t.Key, t.Value}
	}
	data, _ := json.Marshal(pairs)
	return data
}

func decodeTags(data []byte) (entity.Tags, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("invalid tags: %w", err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(entity.Tags, len(pairs))
	for i, p := range pairs {
		tags[i] = entity.Tag{Key: p[0], Value: p[1]}
	}
	return tags, nil
}

type memberJSON struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role,omitempty"`
}

func encodeMembers(members []entity.Member) ([]byte, error) {
	out := make([]memberJSON, len(members))
	for i, m := range members {
		out[i] = memberJSON{Type: m.Type.String(), Ref: m.Ref, Role: m.Role}
	}
	return json.Marshal(out)
}

func decodeMembers(data []byte) ([]entity.Member, error) {
	var in []memberJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("invalid members: %w", err)
	}
	if len(in) == 0 {
		return nil, nil
	}
	members := make([]entity.Member, len(in))
	for i, m := range in {
		typ, err := entity.ParseMemberType(m.Type)
		if err != nil {
			return nil, err
		}
		members[i] = entity.Member{Type: typ, Ref: m.Ref, Role: m.Role}
	}
	return members, nil
}

// memberRefs splits direct node and way member ids for the GIN-indexed columns
func memberRefs(members []entity.Member) (nodes, ways []int64) {
	nodes, ways = []int64{}, []int64{}
	for _, m := range members {
		switch m.Type {
		case entity.MemberNode:
			nodes = append(nodes, m.Ref)
		case entity.MemberWay:
			ways = append(ways, m.Ref)
		}
	}
	return nodes, ways
}

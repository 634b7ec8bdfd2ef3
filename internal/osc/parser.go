package osc

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/wegman-software/vexd/internal/entity"
)

// Handler receives each parsed change. Returning an error stops parsing.
type Handler func(Change) error

// Parser parses OSC (OSM Change) documents
type Parser struct {
	stats Stats
}

// NewParser creates a new OSC parser
func NewParser() *Parser {
	return &Parser{}
}

// Stats returns parsing statistics
func (p *Parser) Stats() Stats {
	return p.stats
}

// Parse streams every change in reader to h, in document order. Numeric
// attributes that fail to parse are errors, not zero values.
func (p *Parser) Parse(ctx context.Context, reader io.Reader, h Handler) error {
	decoder := xml.NewDecoder(reader)
	var action Action

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		token, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("XML parse error: %w", err)
		}

		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		var change Change
		switch se.Name.Local {
		case "create", "modify", "delete":
			action = Action(se.Name.Local)
			continue
		case "node":
			change.Node, err = parseNode(decoder, se)
		case "way":
			change.Way, err = parseWay(decoder, se)
		case "relation":
			change.Relation, err = parseRelation(decoder, se)
		default:
			continue
		}
		if err != nil {
			return err
		}
		if action == "" {
			return fmt.Errorf("%s %d outside create/modify/delete", change.Kind(), change.ID())
		}

		change.Action = action
		if err := h(change); err != nil {
			return err
		}
		p.stats.add(change)
	}
}

// attrs collects the attributes of an element we care about
type attrs map[string]string

func newAttrs(se xml.StartElement) attrs {
	a := make(attrs, len(se.Attr))
	for _, attr := range se.Attr {
		a[attr.Name.Local] = attr.Value
	}
	return a
}

func (a attrs) integer(elem, name string) (int64, error) {
	s, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("%s: missing %s attribute", elem, name)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid %s %q: %w", elem, name, s, err)
	}
	return v, nil
}

func (a attrs) float(elem, name string) (float64, error) {
	s, ok := a[name]
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid %s %q: %w", elem, name, s, err)
	}
	return v, nil
}

// children consumes tokens up to the end tag of the current element, calling fn
// for each nested start element
func children(decoder *xml.Decoder, name string, fn func(xml.StartElement) error) error {
	for {
		token, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("unexpected EOF inside <%s>", name)
			}
			return fmt.Errorf("XML parse error: %w", err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			if err := fn(t); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name.Local == name {
				return nil
			}
		}
	}
}

func parseTag(se xml.StartElement, tags *entity.Tags) {
	a := newAttrs(se)
	if k := a["k"]; k != "" {
		*tags = append(*tags, entity.Tag{Key: k, Value: a["v"]})
	}
}

func parseNode(decoder *xml.Decoder, start xml.StartElement) (*entity.Node, error) {
	a := newAttrs(start)
	id, err := a.integer("node", "id")
	if err != nil {
		return nil, err
	}
	node := &entity.Node{ID: id}
	if node.Lat, err = a.float("node", "lat"); err != nil {
		return nil, err
	}
	if node.Lon, err = a.float("node", "lon"); err != nil {
		return nil, err
	}

	err = children(decoder, "node", func(se xml.StartElement) error {
		if se.Name.Local == "tag" {
			parseTag(se, &node.Tags)
		}
		return nil
	})
	return node, err
}

func parseWay(decoder *xml.Decoder, start xml.StartElement) (*entity.Way, error) {
	id, err := newAttrs(start).integer("way", "id")
	if err != nil {
		return nil, err
	}
	way := &entity.Way{ID: id}

	err = children(decoder, "way", func(se xml.StartElement) error {
		switch se.Name.Local {
		case "nd":
			ref, err := newAttrs(se).integer("nd", "ref")
			if err != nil {
				return fmt.Errorf("way %d: %w", id, err)
			}
			way.Nodes = append(way.Nodes, ref)
		case "tag":
			parseTag(se, &way.Tags)
		}
		return nil
	})
	return way, err
}

func parseRelation(decoder *xml.Decoder, start xml.StartElement) (*entity.Relation, error) {
	id, err := newAttrs(start).integer("relation", "id")
	if err != nil {
		return nil, err
	}
	rel := &entity.Relation{ID: id}

	err = children(decoder, "relation", func(se xml.StartElement) error {
		switch se.Name.Local {
		case "member":
			a := newAttrs(se)
			mt, err := entity.ParseMemberType(a["type"])
			if err != nil {
				return fmt.Errorf("relation %d: %w", id, err)
			}
			ref, err := a.integer("member", "ref")
			if err != nil {
				return fmt.Errorf("relation %d: %w", id, err)
			}
			rel.Members = append(rel.Members, entity.Member{Type: mt, Ref: ref, Role: a["role"]})
		case "tag":
			parseTag(se, &rel.Tags)
		}
		return nil
	})
	return rel, err
}

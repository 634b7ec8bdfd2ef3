// Package text writes entity streams in a line-oriented human readable form.
// It has no decoder.
package text

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/stream"
)

// Writer is a Sink producing one line per entity:
//
//	node 1 43.7371175 7.4229093 highway=traffic_signals
//	way 10 [1 2 3] highway=primary
//	relation 100 [way 10 outer, node 1 ] type=multipolygon
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Sink writing text to w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (t *Writer) WriteBegin() error { return nil }

func (t *Writer) SetReplicationTimestamp(ts time.Time) error {
	_, err := fmt.Fprintf(t.w, "replication_timestamp %s\n", ts.UTC().Format(time.RFC3339))
	return err
}

func (t *Writer) SetReplicationURL(url string) error {
	_, err := fmt.Fprintf(t.w, "replication_url %s\n", url)
	return err
}

func (t *Writer) WriteNode(n *entity.Node) error {
	_, err := fmt.Fprintf(t.w, "node %d %s %s%s\n", n.ID,
		strconv.FormatFloat(n.Lat, 'f', -1, 64),
		strconv.FormatFloat(n.Lon, 'f', -1, 64),
		formatTags(n.Tags))
	return err
}

func (t *Writer) WriteWay(w *entity.Way) error {
	refs := make([]string, len(w.Nodes))
	for i, ref := range w.Nodes {
		refs[i] = strconv.FormatInt(ref, 10)
	}
	_, err := fmt.Fprintf(t.w, "way %d [%s]%s\n", w.ID, strings.Join(refs, " "), formatTags(w.Tags))
	return err
}

func (t *Writer) WriteRelation(r *entity.Relation) error {
	members := make([]string, len(r.Members))
	for i, m := range r.Members {
		members[i] = fmt.Sprintf("%s %d %s", m.Type, m.Ref, m.Role)
	}
	_, err := fmt.Fprintf(t.w, "relation %d [%s]%s\n", r.ID, strings.Join(members, ", "), formatTags(r.Tags))
	return err
}

// WriteEnd flushes buffered output
func (t *Writer) WriteEnd() error {
	return t.w.Flush()
}

func formatTags(tags entity.Tags) string {
	if len(tags) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, tag := range tags {
		sb.WriteByte(' ')
		sb.WriteString(escape(tag.Key))
		sb.WriteByte('=')
		sb.WriteString(escape(tag.Value))
	}
	return sb.String()
}

// escape keeps each entity on one line
func escape(s string) string {
	q := strconv.Quote(s)
	return q[1 : len(q)-1]
}

var _ stream.Sink = (*Writer)(nil)

func init() {
	codec.Register(codec.Format{
		Name:        "txt",
		Suffix:      ".txt",
		Description: "human readable text (write-only)",
		NewSink:     func(w io.Writer) stream.Sink { return NewWriter(w) },
	})
}

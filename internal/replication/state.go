package replication

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrIncompleteState is returned for a state file missing its sequence number
// or timestamp
var ErrIncompleteState = errors.New("replication: incomplete state file")

// State is the content of a replication state.txt
type State struct {
	SequenceNumber int64
	Timestamp      time.Time
}

func (s State) String() string {
	return fmt.Sprintf("Sequence: %d, Timestamp: %s", s.SequenceNumber, s.Timestamp.Format(time.RFC3339))
}

var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

// ParseState parses a state file:
//
//	#comment line
//	sequenceNumber=12345
//	timestamp=2024-01-15T12\:00\:00Z
//
// Colons in the timestamp may be escaped. Both keys are required.
func ParseState(r io.Reader) (*State, error) {
	state := &State{}
	var haveSeq, haveTS bool
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "sequenceNumber":
			seq, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid sequence number: %w", err)
			}
			if seq < 0 {
				return nil, fmt.Errorf("invalid sequence number %d", seq)
			}
			state.SequenceNumber = seq
			haveSeq = true

		case "timestamp":
			value = strings.ReplaceAll(value, `\:`, ":")
			var err error
			for _, format := range timestampFormats {
				var t time.Time
				if t, err = time.Parse(format, value); err == nil {
					state.Timestamp = t.UTC()
					break
				}
			}
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp %q: %w", value, err)
			}
			haveTS = true
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading state: %w", err)
	}
	if !haveSeq || !haveTS {
		return nil, ErrIncompleteState
	}
	return state, nil
}

// WriteState writes state in the format ParseState reads, colons escaped
func WriteState(w io.Writer, state *State) error {
	ts := state.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
	ts = strings.ReplaceAll(ts, ":", `\:`)

	_, err := fmt.Fprintf(w, "# vexd replication state\nsequenceNumber=%d\ntimestamp=%s\n", state.SequenceNumber, ts)
	return err
}

// SequenceToPath converts a sequence number to its directory path,
// e.g. 1234567 -> "001/234/567"
func SequenceToPath(seq int64) string {
	return fmt.Sprintf("%03d/%03d/%03d",
		seq/1000000,
		(seq/1000)%1000,
		seq%1000)
}

// PathToSequence converts a path like "001/234/567" back to a sequence number.
// A .osc.gz or .state.txt extension is ignored.
func PathToSequence(path string) (int64, error) {
	path = strings.TrimSuffix(path, ".osc.gz")
	path = strings.TrimSuffix(path, ".state.txt")

	parts := strings.Split(path, "/")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid path format: %s", path)
	}

	var seq int64
	for i, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid path component %q: %w", part, err)
		}
		if n < 0 || i > 0 && n > 999 {
			return 0, fmt.Errorf("invalid path component %q", part)
		}
		seq = seq*1000 + n
	}
	return seq, nil
}

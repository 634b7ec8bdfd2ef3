package replication

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status summarises the updater and how far the store lags behind the feed
type Status struct {
	Feed        string
	FeedURL     string
	Cursor      time.Time
	Head        *State // nil when the feed state could not be fetched
	HeadError   string
	LastApplied *Diff
	LastRun     time.Time
	LastError   string
	Running     bool
}

// Lag returns how far the cursor trails the feed head
func (s *Status) Lag() time.Duration {
	if s.Head == nil || s.Cursor.IsZero() {
		return 0
	}
	return s.Head.Timestamp.Sub(s.Cursor)
}

// String returns a human-readable status
func (s *Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feed: %s\n", s.Feed)
	fmt.Fprintf(&b, "URL: %s\n", s.FeedURL)
	fmt.Fprintf(&b, "Store timestamp: %s\n", formatTime(s.Cursor))

	if s.Head != nil {
		fmt.Fprintf(&b, "Feed sequence: %d\n", s.Head.SequenceNumber)
		fmt.Fprintf(&b, "Feed timestamp: %s\n", s.Head.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "Lag: %s\n", s.Lag().Round(time.Second))
	} else if s.HeadError != "" {
		fmt.Fprintf(&b, "Feed unavailable: %s\n", s.HeadError)
	}
	if s.LastApplied != nil {
		fmt.Fprintf(&b, "Last applied: %s\n", s.LastApplied)
	}
	if !s.LastRun.IsZero() {
		fmt.Fprintf(&b, "Last run: %s\n", s.LastRun.Format(time.RFC3339))
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", s.LastError)
	}
	return b.String()
}

// Status reports the store cursor and, when probeFeed is set, the feed head
func (u *Updater) Status(ctx context.Context, probeFeed bool) (*Status, error) {
	feed, err := u.Feed(ctx)
	if err != nil {
		return nil, err
	}
	cursor, err := u.store.ReplicationTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("read replication timestamp: %w", err)
	}

	status := &Status{
		Feed:    feed.Name,
		FeedURL: feed.BaseURL,
		Cursor:  cursor,
		Running: u.Running(),
	}

	u.mu.RLock()
	if u.lastApplied != nil {
		applied := *u.lastApplied
		status.LastApplied = &applied
	}
	status.LastRun = u.lastRun
	if u.lastErr != nil {
		status.LastError = u.lastErr.Error()
	}
	u.mu.RUnlock()

	if probeFeed {
		head, err := u.fetcher.FetchState(ctx, feed.StateURL())
		if err != nil {
			status.HeadError = err.Error()
		} else {
			status.Head = head
		}
	}
	return status, nil
}

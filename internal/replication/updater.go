// Package replication keeps a store current with an upstream replication feed.
//
// An update cycle reads the store's cursor, probes the feed backwards from its
// head for every diff newer than the cursor, and applies those diffs oldest
// first. The cursor moves to a diff's timestamp only after the whole diff is
// applied, so a failed cycle resumes at the diff that failed.
package replication

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/metrics"
	"github.com/wegman-software/vexd/internal/osc"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/tile"
)

var (
	// ErrNoState means the feed's head state could not be fetched or parsed
	ErrNoState = errors.New("replication: feed state unavailable")
	// ErrCursorOutOfRange means the store cursor is outside [MinCursor, MaxCursor]
	ErrCursorOutOfRange = errors.New("replication: store cursor out of range")
	// ErrBusy is returned when an update cycle is already running
	ErrBusy = errors.New("replication: update already running")
)

// Plausible bounds for a store cursor
var (
	MinCursor = time.Date(2015, 5, 1, 0, 0, 0, 0, time.UTC)
	MaxCursor = time.Date(2100, 2, 1, 0, 0, 0, 0, time.UTC)
)

// Diff describes one remote diff
type Diff struct {
	SequenceNumber int64
	URL            string
	Timestamp      time.Time
}

func (d Diff) String() string {
	return fmt.Sprintf("#%d (%s)", d.SequenceNumber, d.Timestamp.Format(time.RFC3339))
}

// CheckCursor rejects cursors outside the plausible range
func CheckCursor(ts time.Time) error {
	if ts.Before(MinCursor) || ts.After(MaxCursor) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrCursorOutOfRange,
			formatTime(ts), MinCursor.Format(time.RFC3339), MaxCursor.Format(time.RFC3339))
	}
	return nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "unset"
	}
	return ts.UTC().Format(time.RFC3339)
}

// Options configures an Updater
type Options struct {
	// Feed is used unless the store carries a base URL override. Nil selects DefaultFeed.
	Feed    *Feed
	Fetcher *Fetcher
	// InitialTimestamp seeds the cursor of a store that has none.
	InitialTimestamp time.Time
	// Tracker, if set, records tiles touched by applied entities. They are
	// appended to ExpireFile after every cycle that applied a diff.
	Tracker    *tile.Tracker
	ExpireFile string
	Logger     *zap.Logger
}

// Updater applies feed diffs to a store. Only one cycle runs at a time.
type Updater struct {
	store      store.Store
	feed       *Feed
	fetcher    *Fetcher
	initial    time.Time
	tracker    *tile.Tracker
	expireFile string
	log        *zap.Logger

	running atomic.Bool

	mu          sync.RWMutex
	lastApplied *Diff
	lastRun     time.Time
	lastErr     error
}

// NewUpdater creates an updater for st
func NewUpdater(st store.Store, opts Options) *Updater {
	if opts.Feed == nil {
		opts.Feed = DefaultFeed
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(FetcherOptions{})
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("replication")
	}
	return &Updater{
		store:      st,
		feed:       opts.Feed,
		fetcher:    opts.Fetcher,
		initial:    opts.InitialTimestamp,
		tracker:    opts.Tracker,
		expireFile: opts.ExpireFile,
		log:        opts.Logger,
	}
}

// Feed returns the feed in effect: the store's base URL override if set,
// otherwise the configured feed
func (u *Updater) Feed(ctx context.Context) (*Feed, error) {
	url, err := u.store.ReplicationBaseURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("read replication base url: %w", err)
	}
	if url = strings.TrimSpace(url); url != "" {
		return FeedForURL(url), nil
	}
	return u.feed, nil
}

// FindDiffs returns the diffs newer than the store cursor, oldest first.
// Probing walks back from the head sequence and stops at the first diff that
// is not newer than the cursor or whose state cannot be fetched.
func (u *Updater) FindDiffs(ctx context.Context) ([]Diff, error) {
	feed, err := u.Feed(ctx)
	if err != nil {
		return nil, err
	}
	head, err := u.fetcher.FetchState(ctx, feed.StateURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoState, err)
	}
	cursor, err := u.store.ReplicationTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("read replication timestamp: %w", err)
	}

	u.log.Debug("Feed head",
		zap.String("feed", feed.BaseURL),
		zap.Int64("sequence", head.SequenceNumber),
		zap.Time("timestamp", head.Timestamp),
		zap.Time("cursor", cursor))

	if !head.Timestamp.After(cursor) {
		return nil, nil
	}

	var diffs []Diff
	for seq := head.SequenceNumber; seq > 0; seq-- {
		state, err := u.fetcher.FetchState(ctx, feed.SequenceStateURL(seq))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			u.log.Warn("Stopped probing at unreadable state",
				zap.Int64("sequence", seq), zap.Error(err))
			break
		}
		if !state.Timestamp.After(cursor) {
			break
		}
		diffs = append(diffs, Diff{
			SequenceNumber: seq,
			URL:            feed.SequenceDataURL(seq),
			Timestamp:      state.Timestamp,
		})
	}

	slices.Reverse(diffs)
	return diffs, nil
}

// ApplyDiffs applies diffs in order and returns how many were applied. It
// stops at the first failure without moving the cursor past the last
// successful diff. Cancellation of ctx is observed between diffs only.
func (u *Updater) ApplyDiffs(ctx context.Context, diffs []Diff) (int, error) {
	for i, d := range diffs {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		start := time.Now()
		// a diff is never interrupted half way
		dctx := context.WithoutCancel(ctx)
		stats, err := u.applyDiff(dctx, d)
		if err == nil {
			err = u.store.SetReplicationTimestamp(dctx, d.Timestamp)
		}
		if err != nil {
			metrics.DiffFailures.Inc()
			return i, fmt.Errorf("diff %s: %w", d, err)
		}

		u.mu.Lock()
		applied := d
		u.lastApplied = &applied
		u.mu.Unlock()

		metrics.DiffsApplied.Inc()
		metrics.ReplicationSequence.Set(float64(d.SequenceNumber))
		metrics.ReplicationTimestamp.Set(float64(d.Timestamp.Unix()))

		u.log.Info("Applied diff",
			zap.Int64("sequence", d.SequenceNumber),
			zap.Time("timestamp", d.Timestamp),
			zap.Int64("changes", stats.Total()),
			zap.Int64("deletes_skipped", stats.Deleted()),
			zap.Duration("elapsed", time.Since(start)))
	}
	return len(diffs), nil
}

// applyDiff upserts every created or modified entity of d. Deletes are
// counted but not applied.
func (u *Updater) applyDiff(ctx context.Context, d Diff) (osc.Stats, error) {
	body, err := u.fetcher.FetchDiff(ctx, d.URL)
	if err != nil {
		return osc.Stats{}, err
	}
	defer body.Close()

	parser := osc.NewParser()
	err = parser.Parse(ctx, body, func(c osc.Change) error {
		if c.Action == osc.ActionDelete {
			return nil
		}
		return u.upsert(ctx, c)
	})
	return parser.Stats(), err
}

func (u *Updater) upsert(ctx context.Context, c osc.Change) error {
	var err error
	switch {
	case c.Node != nil:
		err = u.store.UpsertNode(ctx, c.Node)
		if err == nil {
			u.tracker.ExpirePoint(c.Node.Lat, c.Node.Lon)
		}
	case c.Way != nil:
		err = u.store.UpsertWay(ctx, c.Way)
		if err == nil {
			err = u.expireNodes(ctx, c.Way.Nodes)
		}
	case c.Relation != nil:
		err = u.store.UpsertRelation(ctx, c.Relation)
		if err == nil {
			var refs []int64
			for _, m := range c.Relation.Members {
				if m.Type == entity.MemberNode {
					refs = append(refs, m.Ref)
				}
			}
			err = u.expireNodes(ctx, refs)
		}
	}
	if err != nil {
		return err
	}
	metrics.EntityUpserts.WithLabelValues(c.Kind()).Inc()
	return nil
}

// expireNodes marks the tiles covering the stored nodes among ids. Nodes of
// the same diff are upserted first, so their new positions are used.
func (u *Updater) expireNodes(ctx context.Context, ids []int64) error {
	if u.tracker == nil || len(ids) == 0 {
		return nil
	}
	nodes, err := u.store.Nodes(ctx, ids)
	if err != nil {
		return fmt.Errorf("look up nodes for expiry: %w", err)
	}
	u.tracker.ExpireNodes(nodes)
	return nil
}

// Update runs one cycle: cursor check, discovery, application. It returns
// the number of diffs applied.
func (u *Updater) Update(ctx context.Context) (int, error) {
	if !u.running.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer u.running.Store(false)

	start := time.Now()
	applied, err := u.update(ctx)

	u.mu.Lock()
	u.lastRun = start
	u.lastErr = err
	u.mu.Unlock()
	metrics.UpdateDuration.Observe(time.Since(start).Seconds())

	if applied > 0 && u.tracker != nil && u.expireFile != "" {
		if ferr := u.tracker.Flush(u.expireFile); ferr != nil {
			u.log.Error("Failed to write expired tiles", zap.String("file", u.expireFile), zap.Error(ferr))
		}
	}
	return applied, err
}

func (u *Updater) update(ctx context.Context) (int, error) {
	cursor, err := u.store.ReplicationTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("read replication timestamp: %w", err)
	}
	if cursor.IsZero() && !u.initial.IsZero() {
		if err := CheckCursor(u.initial); err != nil {
			return 0, err
		}
		if err := u.store.SetReplicationTimestamp(ctx, u.initial); err != nil {
			return 0, fmt.Errorf("seed replication timestamp: %w", err)
		}
		u.log.Info("Seeded replication cursor", zap.Time("timestamp", u.initial))
		cursor = u.initial
	}
	if err := CheckCursor(cursor); err != nil {
		return 0, err
	}
	metrics.ReplicationTimestamp.Set(float64(cursor.Unix()))

	diffs, err := u.FindDiffs(ctx)
	if err != nil {
		return 0, err
	}
	if len(diffs) == 0 {
		u.log.Debug("Store is up to date", zap.Time("cursor", cursor))
		return 0, nil
	}

	u.log.Info("Applying diffs",
		zap.Int("count", len(diffs)),
		zap.Int64("first", diffs[0].SequenceNumber),
		zap.Int64("last", diffs[len(diffs)-1].SequenceNumber))
	return u.ApplyDiffs(ctx, diffs)
}

// Run updates immediately, then again interval after each cycle ends, until
// ctx is cancelled. Cycle errors are logged and never stop the loop.
func (u *Updater) Run(ctx context.Context, interval time.Duration) {
	u.log.Info("Replication updater started", zap.Duration("interval", interval))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			u.log.Info("Replication updater stopped")
			return
		case <-timer.C:
		}

		applied, err := u.Update(ctx)
		switch {
		case err == nil:
			if applied > 0 {
				u.log.Info("Update cycle complete", zap.Int("applied", applied))
			}
		case errors.Is(err, context.Canceled):
		case errors.Is(err, ErrCursorOutOfRange):
			u.log.Error("Skipping update cycle", zap.Error(err))
		default:
			u.log.Warn("Update cycle failed, retrying next cycle",
				zap.Int("applied", applied), zap.Error(err))
		}
		timer.Reset(interval)
	}
}

// LastApplied returns the most recently applied diff
func (u *Updater) LastApplied() (Diff, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.lastApplied == nil {
		return Diff{}, false
	}
	return *u.lastApplied, true
}

// Running reports whether a cycle is in progress
func (u *Updater) Running() bool {
	return u.running.Load()
}

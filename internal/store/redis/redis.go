// Package redis is a Store kept in Redis. Entities are JSON values in one hash
// per kind; sets index nodes by tile and map nodes and ways to their parents.
// Every upsert is a MULTI/EXEC transaction so readers see whole entities.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/stream"
	"github.com/wegman-software/vexd/internal/tile"
)

// IndexZoom is the zoom level of the node tile sets
const IndexZoom = 12

// DefaultPrefix namespaces every key
const DefaultPrefix = "vexd:"

const (
	fieldTimestamp = "replication_timestamp"
	fieldBaseURL   = "replication_base_url"

	// ids fetched per HMGET
	batchSize = 1000
)

// Store is a store.Store backed by a go-redis client
type Store struct {
	client *goredis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// Options configures Open
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Open connects to Redis and checks the connection
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return New(client, opts.Prefix), nil
}

// New wraps an existing client
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) metaKey() string { return s.prefix + "meta" }
func (s *Store) nodesKey() string { return s.prefix + "nodes" }
func (s *Store) waysKey() string { return s.prefix + "ways" }
func (s *Store) relsKey() string { return s.prefix + "rels" }
func (s *Store) tilesKey() string { return s.prefix + "tiles" }
func (s *Store) tileKey(t uint64) string {
	return s.prefix + "tile:" + strconv.FormatUint(t, 10)
}
func (s *Store) nodeWaysKey(id int64) string {
	return s.prefix + "nw:" + strconv.FormatInt(id, 10)
}
func (s *Store) memberKey(typ entity.MemberType, ref int64) string {
	return s.prefix + "rm:" + typ.String() + ":" + strconv.FormatInt(ref, 10)
}

func (s *Store) ReplicationTimestamp(ctx context.Context) (time.Time, error) {
	value, err := s.client.HGet(ctx, s.metaKey(), fieldTimestamp).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, value)
}

// SetReplicationTimestamp checks and writes the cursor under WATCH so a
// concurrent writer cannot slip an older value in between
func (s *Store) SetReplicationTimestamp(ctx context.Context, ts time.Time) error {
	key := s.metaKey()
	return s.client.Watch(ctx, func(tx *goredis.Tx) error {
		value, err := tx.HGet(ctx, key, fieldTimestamp).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if value != "" {
			current, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return fmt.Errorf("stored replication timestamp %q: %w", value, err)
			}
			if err := store.CheckCursor(current, ts); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldTimestamp, ts.UTC().Format(time.RFC3339Nano))
			return nil
		})
		return err
	}, key)
}

func (s *Store) ReplicationBaseURL(ctx context.Context) (string, error) {
	value, err := s.client.HGet(ctx, s.metaKey(), fieldBaseURL).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return value, err
}

func (s *Store) SetReplicationBaseURL(ctx context.Context, url string) error {
	return s.client.HSet(ctx, s.metaKey(), fieldBaseURL, url).Err()
}

func (s *Store) UpsertNode(ctx context.Context, n *entity.Node) error {
	id := strconv.FormatInt(n.ID, 10)
	old, err := getJSON[entity.Node](ctx, s.client, s.nodesKey(), id)
	if err != nil {
		return fmt.Errorf("upsert node %d: %w", n.ID, err)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("upsert node %d: %w", n.ID, err)
	}

	key := tile.LatLonToTile(n.Lat, n.Lon, IndexZoom).Pack()
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if old != nil {
			if oldKey := tile.LatLonToTile(old.Lat, old.Lon, IndexZoom).Pack(); oldKey != key {
				pipe.SRem(ctx, s.tileKey(oldKey), n.ID)
			}
		}
		pipe.HSet(ctx, s.nodesKey(), id, data)
		pipe.SAdd(ctx, s.tileKey(key), n.ID)
		// populated tiles; entries for tiles emptied later are harmless
		pipe.SAdd(ctx, s.tilesKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert node %d: %w", n.ID, err)
	}
	return nil
}

func (s *Store) UpsertWay(ctx context.Context, w *entity.Way) error {
	id := strconv.FormatInt(w.ID, 10)
	old, err := getJSON[entity.Way](ctx, s.client, s.waysKey(), id)
	if err != nil {
		return fmt.Errorf("upsert way %d: %w", w.ID, err)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("upsert way %d: %w", w.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if old != nil {
			for _, ref := range old.Nodes {
				pipe.SRem(ctx, s.nodeWaysKey(ref), w.ID)
			}
		}
		pipe.HSet(ctx, s.waysKey(), id, data)
		for _, ref := range w.Nodes {
			pipe.SAdd(ctx, s.nodeWaysKey(ref), w.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert way %d: %w", w.ID, err)
	}
	return nil
}

func (s *Store) UpsertRelation(ctx context.Context, r *entity.Relation) error {
	id := strconv.FormatInt(r.ID, 10)
	old, err := getJSON[entity.Relation](ctx, s.client, s.relsKey(), id)
	if err != nil {
		return fmt.Errorf("upsert relation %d: %w", r.ID, err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("upsert relation %d: %w", r.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if old != nil {
			for _, m := range old.Members {
				pipe.SRem(ctx, s.memberKey(m.Type, m.Ref), r.ID)
			}
		}
		pipe.HSet(ctx, s.relsKey(), id, data)
		for _, m := range r.Members {
			pipe.SAdd(ctx, s.memberKey(m.Type, m.Ref), r.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert relation %d: %w", r.ID, err)
	}
	return nil
}

func getJSON[T any](ctx context.Context, c goredis.Cmdable, key, field string) (*T, error) {
	data, err := c.HGet(ctx, key, field).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", key, field, err)
	}
	return &v, nil
}

func (s *Store) QueryBoundingBox(ctx context.Context, box geo.BoundingBox, w stream.EntityWriter) error {
	if err := box.Validate(); err != nil {
		return err
	}

	candidates, err := s.tileMembers(ctx, tile.RangeFor(box, IndexZoom))
	if err != nil {
		return fmt.Errorf("query tile index: %w", err)
	}
	boxNodes, err := getMany[entity.Node](ctx, s.client, s.nodesKey(), candidates)
	if err != nil {
		return err
	}
	inside := make([]int64, 0, len(boxNodes))
	for _, n := range boxNodes {
		if box.Contains(n.Lat, n.Lon) {
			inside = append(inside, n.ID)
		}
	}

	wayIDs, err := s.unionSets(ctx, inside, s.nodeWaysKey)
	if err != nil {
		return fmt.Errorf("query way index: %w", err)
	}
	ways, err := getMany[entity.Way](ctx, s.client, s.waysKey(), wayIDs)
	if err != nil {
		return err
	}

	relIDs, err := s.unionSets(ctx, inside, func(id int64) string { return s.memberKey(entity.MemberNode, id) })
	if err != nil {
		return fmt.Errorf("query relation index: %w", err)
	}
	viaWays, err := s.unionSets(ctx, wayIDs, func(id int64) string { return s.memberKey(entity.MemberWay, id) })
	if err != nil {
		return fmt.Errorf("query relation index: %w", err)
	}
	relations, err := getMany[entity.Relation](ctx, s.client, s.relsKey(), sortedUnion(relIDs, viaWays))
	if err != nil {
		return err
	}

	refs := append([]int64{}, inside...)
	for _, way := range ways {
		refs = append(refs, way.Nodes...)
	}
	nodes, err := getMany[entity.Node](ctx, s.client, s.nodesKey(), sortedUnion(refs))
	if err != nil {
		return err
	}
	return stream.WriteAll(ctx, w, nodes, ways, relations)
}

func (s *Store) Nodes(ctx context.Context, ids []int64) ([]*entity.Node, error) {
	return getMany[entity.Node](ctx, s.client, s.nodesKey(), ids)
}

// tileMembers returns the node ids indexed under tiles in r. Large ranges
// are filtered from the populated tile set instead of probed tile by tile.
func (s *Store) tileMembers(ctx context.Context, r tile.Range) ([]int64, error) {
	populated, err := s.client.SCard(ctx, s.tilesKey()).Result()
	if err != nil {
		return nil, err
	}

	var keys []string
	if int64(r.Count()) > populated {
		members, err := s.client.SMembers(ctx, s.tilesKey()).Result()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			packed, err := strconv.ParseUint(m, 10, 64)
			if err != nil {
				continue
			}
			if r.Contains(tile.Unpack(packed)) {
				keys = append(keys, s.tileKey(packed))
			}
		}
	} else {
		for _, t := range r.Tiles() {
			keys = append(keys, s.tileKey(t.Pack()))
		}
	}

	var ids []int64
	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		part, err := s.client.SUnion(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, err
		}
		parsed, err := parseIDs(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, parsed...)
	}
	return sortedUnion(ids), nil
}

// unionSets returns the sorted union of the sets keyed by ids
func (s *Store) unionSets(ctx context.Context, ids []int64, key func(int64) string) ([]int64, error) {
	var out []int64
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, key(id))
		}
		members, err := s.client.SUnion(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		parsed, err := parseIDs(members)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed...)
	}
	return sortedUnion(out), nil
}

// getMany fetches ids from hash key, in the order given. Missing ids are skipped.
func getMany[T any](ctx context.Context, c goredis.Cmdable, key string, ids []int64) ([]*T, error) {
	out := make([]*T, 0, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		fields := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			fields = append(fields, strconv.FormatInt(id, 10))
		}
		values, err := c.HMGet(ctx, key, fields...).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var item T
			if err := json.Unmarshal([]byte(str), &item); err != nil {
				return nil, fmt.Errorf("decode %s %s: %w", key, fields[i], err)
			}
			out = append(out, &item)
		}
	}
	return out, nil
}

func parseIDs(members []string) ([]int64, error) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q in index", m)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// sortedUnion merges id lists into one sorted list without duplicates
func sortedUnion(lists ...[]int64) []int64 {
	var out []int64
	for _, l := range lists {
		out = append(out, l...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Counts returns the number of stored entities per kind
func (s *Store) Counts(ctx context.Context) (stream.Counts, error) {
	var c stream.Counts
	var err error
	if c.Nodes, err = s.client.HLen(ctx, s.nodesKey()).Result(); err != nil {
		return c, err
	}
	if c.Ways, err = s.client.HLen(ctx, s.waysKey()).Result(); err != nil {
		return c, err
	}
	c.Relations, err = s.client.HLen(ctx, s.relsKey()).Result()
	return c, err
}

func (s *Store) Close() error {
	return s.client.Close()
}

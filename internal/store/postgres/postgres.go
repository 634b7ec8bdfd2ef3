// Package postgres is a Store kept in PostgreSQL tables: one row per entity,
// a GIN index over way node lists and member arrays for relation lookups.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/stream"
)

const (
	propTimestamp = "replication_timestamp"
	propBaseURL   = "replication_base_url"
)

// Store is a store.Store backed by a pgx connection pool
type Store struct {
	pool   *pgxpool.Pool
	schema string

	nodes, ways, rels, props string
}

var _ store.Store = (*Store)(nil)

// Open connects to connString and creates the tables in schema if needed
func Open(ctx context.Context, connString, schema string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := New(pool, schema)
	if err := s.EnsureTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. Tables are not created.
func New(pool *pgxpool.Pool, schema string) *Store {
	if schema == "" {
		schema = "public"
	}
	return &Store{
		pool:   pool,
		schema: schema,
		nodes:  pgx.Identifier{schema, "planet_osm_nodes"}.Sanitize(),
		ways:   pgx.Identifier{schema, "planet_osm_ways"}.Sanitize(),
		rels:   pgx.Identifier{schema, "planet_osm_rels"}.Sanitize(),
		props:  pgx.Identifier{schema, "vexd_properties"}.Sanitize(),
	}
}

// EnsureTables creates the entity and property tables and their indexes
func (s *Store) EnsureTables(ctx context.Context) error {
	log := logger.Get()

	statements := []struct {
		name string
		sql  string
	}{
		{"schema", fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{s.schema}.Sanitize())},
		{"planet_osm_nodes", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				lat INTEGER NOT NULL,
				lon INTEGER NOT NULL,
				tags JSONB
			)`, s.nodes)},
		{"planet_osm_ways", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				nodes BIGINT[] NOT NULL,
				tags JSONB
			)`, s.ways)},
		{"planet_osm_rels", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				members JSONB NOT NULL,
				member_nodes BIGINT[] NOT NULL,
				member_ways BIGINT[] NOT NULL,
				tags JSONB
			)`, s.rels)},
		{"vexd_properties", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				property TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`, s.props)},
		{"planet_osm_nodes_latlon_idx", fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS planet_osm_nodes_latlon_idx ON %s (lat, lon)", s.nodes)},
		{"planet_osm_ways_nodes_idx", fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS planet_osm_ways_nodes_idx ON %s USING GIN (nodes)", s.ways)},
		{"planet_osm_rels_nodes_idx", fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS planet_osm_rels_nodes_idx ON %s USING GIN (member_nodes)", s.rels)},
		{"planet_osm_rels_ways_idx", fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS planet_osm_rels_ways_idx ON %s USING GIN (member_ways)", s.rels)},
	}

	for _, st := range statements {
		log.Debug("Ensuring table", zap.String("name", st.name))
		if _, err := s.pool.Exec(ctx, st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}
	return nil
}

// DropTables removes everything EnsureTables created
func (s *Store) DropTables(ctx context.Context) error {
	for _, table := range []string{s.nodes, s.ways, s.rels, s.props} {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return nil
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) property(ctx context.Context, q querier, name string) (string, error) {
	var value string
	err := q.QueryRow(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE property = $1", s.props), name,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *Store) setProperty(ctx context.Context, q querier, name, value string) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (property, value) VALUES ($1, $2)
		ON CONFLICT (property) DO UPDATE SET value = $2
	`, s.props), name, value)
	return err
}

func (s *Store) ReplicationTimestamp(ctx context.Context) (time.Time, error) {
	value, err := s.property(ctx, s.pool, propTimestamp)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, value)
}

func (s *Store) SetReplicationTimestamp(ctx context.Context, ts time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var value string
		err := tx.QueryRow(ctx,
			fmt.Sprintf("SELECT value FROM %s WHERE property = $1 FOR UPDATE", s.props), propTimestamp,
		).Scan(&value)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
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
		return s.setProperty(ctx, tx, propTimestamp, ts.UTC().Format(time.RFC3339Nano))
	})
}

func (s *Store) ReplicationBaseURL(ctx context.Context) (string, error) {
	return s.property(ctx, s.pool, propBaseURL)
}

func (s *Store) SetReplicationBaseURL(ctx context.Context, url string) error {
	return s.setProperty(ctx, s.pool, propBaseURL, url)
}

func (s *Store) UpsertNode(ctx context.Context, n *entity.Node) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, lat, lon, tags)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET lat = $2, lon = $3, tags = $4
	`, s.nodes),
		n.ID, entity.ScaleCoord(n.Lat), entity.ScaleCoord(n.Lon), encodeTags(n.Tags),
	)
	if err != nil {
		return fmt.Errorf("upsert node %d: %w", n.ID, err)
	}
	return nil
}

func (s *Store) UpsertWay(ctx context.Context, w *entity.Way) error {
	refs := w.Nodes
	if refs == nil {
		refs = []int64{}
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, nodes, tags)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET nodes = $2, tags = $3
	`, s.ways),
		w.ID, refs, encodeTags(w.Tags),
	)
	if err != nil {
		return fmt.Errorf("upsert way %d: %w", w.ID, err)
	}
	return nil
}

func (s *Store) UpsertRelation(ctx context.Context, r *entity.Relation) error {
	members, err := encodeMembers(r.Members)
	if err != nil {
		return fmt.Errorf("upsert relation %d: %w", r.ID, err)
	}
	memberNodes, memberWays := memberRefs(r.Members)
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, members, member_nodes, member_ways, tags)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET members = $2, member_nodes = $3, member_ways = $4, tags = $5
	`, s.rels),
		r.ID, members, memberNodes, memberWays, encodeTags(r.Tags),
	)
	if err != nil {
		return fmt.Errorf("upsert relation %d: %w", r.ID, err)
	}
	return nil
}

// QueryBoundingBox reads from a single repeatable-read snapshot so a
// concurrent diff never shows up half applied across the three tables.
func (s *Store) QueryBoundingBox(ctx context.Context, box geo.BoundingBox, w stream.EntityWriter) error {
	if err := box.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin query: %w", err)
	}
	defer tx.Rollback(ctx)

	inside, err := collectIDs(ctx, tx, fmt.Sprintf(
		"SELECT id FROM %s WHERE lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4", s.nodes),
		entity.ScaleCoord(box.MinLat), entity.ScaleCoord(box.MaxLat),
		entity.ScaleCoord(box.MinLon), entity.ScaleCoord(box.MaxLon),
	)
	if err != nil {
		return fmt.Errorf("query nodes in box: %w", err)
	}

	ways, err := s.queryWays(ctx, tx, inside)
	if err != nil {
		return err
	}
	wayIDs := make([]int64, 0, len(ways))
	nodeIDs := append([]int64{}, inside...)
	for _, way := range ways {
		wayIDs = append(wayIDs, way.ID)
		nodeIDs = append(nodeIDs, way.Nodes...)
	}

	relations, err := s.queryRelations(ctx, tx, inside, wayIDs)
	if err != nil {
		return err
	}

	if err := s.writeNodes(ctx, tx, nodeIDs, w); err != nil {
		return err
	}
	return stream.WriteAll(ctx, w, nil, ways, relations)
}

func collectIDs(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]int64, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if ids == nil {
		ids = []int64{}
	}
	return ids, err
}

func (s *Store) queryWays(ctx context.Context, tx pgx.Tx, nodeIDs []int64) ([]*entity.Way, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(
		"SELECT id, nodes, tags FROM %s WHERE nodes && $1::bigint[] ORDER BY id", s.ways), nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("query ways: %w", err)
	}
	defer rows.Close()

	var ways []*entity.Way
	for rows.Next() {
		var way entity.Way
		var tags []byte
		if err := rows.Scan(&way.ID, &way.Nodes, &tags); err != nil {
			return nil, fmt.Errorf("scan way: %w", err)
		}
		if way.Tags, err = decodeTags(tags); err != nil {
			return nil, fmt.Errorf("way %d: %w", way.ID, err)
		}
		if len(way.Nodes) == 0 {
			way.Nodes = nil
		}
		ways = append(ways, &way)
	}
	return ways, rows.Err()
}

func (s *Store) queryRelations(ctx context.Context, tx pgx.Tx, nodeIDs, wayIDs []int64) ([]*entity.Relation, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT id, members, tags FROM %s
		WHERE member_nodes && $1::bigint[] OR member_ways && $2::bigint[]
		ORDER BY id`, s.rels), nodeIDs, wayIDs)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	var relations []*entity.Relation
	for rows.Next() {
		var rel entity.Relation
		var members, tags []byte
		if err := rows.Scan(&rel.ID, &members, &tags); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		if rel.Members, err = decodeMembers(members); err != nil {
			return nil, fmt.Errorf("relation %d: %w", rel.ID, err)
		}
		if rel.Tags, err = decodeTags(tags); err != nil {
			return nil, fmt.Errorf("relation %d: %w", rel.ID, err)
		}
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}

func (s *Store) Nodes(ctx context.Context, ids []int64) ([]*entity.Node, error) {
	var buf stream.Buffer
	if err := s.writeNodes(ctx, s.pool, ids, &buf); err != nil {
		return nil, err
	}
	return buf.Nodes, nil
}

type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// writeNodes streams nodes straight from the result set to w
func (s *Store) writeNodes(ctx context.Context, q rowsQuerier, ids []int64, w stream.EntityWriter) error {
	rows, err := q.Query(ctx, fmt.Sprintf(
		"SELECT id, lat, lon, tags FROM %s WHERE id = ANY($1::bigint[]) ORDER BY id", s.nodes), ids)
	if err != nil {
		return fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       int64
			lat, lon int32
			tags     []byte
		)
		if err := rows.Scan(&id, &lat, &lon, &tags); err != nil {
			return fmt.Errorf("scan node: %w", err)
		}
		node := &entity.Node{ID: id, Lat: entity.UnscaleCoord(lat), Lon: entity.UnscaleCoord(lon)}
		if node.Tags, err = decodeTags(tags); err != nil {
			return fmt.Errorf("node %d: %w", id, err)
		}
		if err := w.WriteNode(node); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Counts returns the number of rows per entity table
func (s *Store) Counts(ctx context.Context) (stream.Counts, error) {
	var c stream.Counts
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT (SELECT count(*) FROM %s), (SELECT count(*) FROM %s), (SELECT count(*) FROM %s)",
		s.nodes, s.ways, s.rels),
	).Scan(&c.Nodes, &c.Ways, &c.Relations)
	return c, err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

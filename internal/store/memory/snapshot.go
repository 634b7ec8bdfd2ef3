package memory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/codec/vex"
	"github.com/wegman-software/vexd/internal/entity"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/stream"
)

// All returns a Source over every stored entity, sorted by id within each kind
func (s *Store) All() stream.Source {
	return &allSource{s: s}
}

type allSource struct {
	s *Store
}

func (a *allSource) ReplicationURL() string {
	url, _ := a.s.ReplicationBaseURL(context.Background())
	return url
}

func (a *allSource) CopyTo(ctx context.Context, sink stream.Sink) error {
	buf, err := a.s.dump()
	if err != nil {
		return err
	}
	return buf.CopyTo(ctx, sink)
}

func (s *Store) dump() (*stream.Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	buf := &stream.Buffer{
		Timestamp: s.ts,
		URL:       s.url,
		Nodes:     make([]*entity.Node, 0, len(s.nodes)),
		Ways:      make([]*entity.Way, 0, len(s.ways)),
		Relations: make([]*entity.Relation, 0, len(s.relations)),
	}
	for _, id := range sortedKeys(s.nodes) {
		buf.Nodes = append(buf.Nodes, s.nodes[id])
	}
	for _, id := range sortedKeys(s.ways) {
		buf.Ways = append(buf.Ways, s.ways[id])
	}
	for _, id := range sortedKeys(s.relations) {
		buf.Relations = append(buf.Relations, s.relations[id])
	}
	return buf, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for id := range m {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}

// Save writes a VEX snapshot of the store to path. The file is replaced
// atomically.
func (s *Store) Save(ctx context.Context, path string) error {
	log := logger.Get()
	start := time.Now()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := s.All().CopyTo(ctx, vex.NewEncoder(bw)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	var size uint64
	if fi, err := os.Stat(path); err == nil {
		size = uint64(fi.Size())
	}
	counts := s.Counts()
	log.Info("Snapshot saved",
		zap.String("path", path),
		zap.Int64("nodes", counts.Nodes),
		zap.Int64("ways", counts.Ways),
		zap.Int64("relations", counts.Relations),
		zap.String("size", humanize.IBytes(size)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Load reads a VEX snapshot into the store. A missing file leaves the store
// unchanged and is not an error.
func (s *Store) Load(ctx context.Context, path string) error {
	log := logger.Get()
	start := time.Now()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("No snapshot found, starting empty", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	loader := stream.Guard(store.Loader(ctx, s))
	if err := vex.NewDecoder(bufio.NewReaderSize(f, 1<<20)).CopyTo(ctx, loader); err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", path, err)
	}

	counts := s.Counts()
	log.Info("Snapshot loaded",
		zap.String("path", path),
		zap.Int64("nodes", counts.Nodes),
		zap.Int64("ways", counts.Ways),
		zap.Int64("relations", counts.Relations),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Open creates a store and loads the snapshot at path, if any
func Open(ctx context.Context, path string) (*Store, error) {
	s := New()
	if path == "" {
		return s, nil
	}
	if err := s.Load(ctx, path); err != nil {
		return nil, err
	}
	return s, nil
}

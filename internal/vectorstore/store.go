package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"
)

// Index types accepted by CreateCollection.
const (
	IndexHNSW    = "hnsw"
	IndexIVFFlat = "ivfflat"
)

// IndexParams tunes the ANN index built with a new collection. Zero values
// take the documented defaults.
type IndexParams struct {
	HNSWM              int // max connections per graph node
	HNSWEfConstruction int // candidates considered while building
	IVFLists           int // cluster count
}

func (p IndexParams) withDefaults() IndexParams {
	if p.HNSWM == 0 {
		p.HNSWM = 32
	}
	if p.HNSWEfConstruction == 0 {
		p.HNSWEfConstruction = 400
	}
	if p.IVFLists == 0 {
		p.IVFLists = 1000
	}
	return p
}

// Store wraps a pgx pool over a pgvector-enabled database. One Store per
// process; concurrent readers share the pool, a single writer per source
// is assumed by the upsert path.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger

	closeOnce sync.Once
}

// New connects a pool sized [minConns, maxConns] and registers the vector
// type on every new connection.
func New(ctx context.Context, dsn string, minConns, maxConns int, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool, schema: "public", logger: logger}, nil
}

// Close releases the pool. Safe to call more than once.
func (s *Store) Close() {
	s.closeOnce.Do(s.pool.Close)
}

// Ping checks database liveness.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ident quotes a collection name as a SQL identifier.
func ident(name string) string {
	return pgx.Identifier{strings.ToLower(name)}.Sanitize()
}

// TableExists reports whether the collection exists in the store schema.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, sqlTableExists, s.schema, strings.ToLower(name)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", name, err)
	}
	return exists, nil
}

// ListCollections returns the names of every table carrying an embedding
// column, i.e. the tables this store manages rather than everything in
// the schema.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, sqlListCollections, s.schema)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// CreateCollection creates the table, its generated full-text columns and
// the requested ANN index. It returns false when the collection already
// exists. Unknown index types fail before touching the database.
func (s *Store) CreateCollection(ctx context.Context, name string, dim int, indexType string, params IndexParams) (bool, error) {
	switch indexType {
	case IndexHNSW, IndexIVFFlat:
	default:
		return false, fmt.Errorf("unknown index type %q", indexType)
	}
	if dim <= 0 {
		return false, fmt.Errorf("invalid embedding dimension %d", dim)
	}

	if _, err := s.pool.Exec(ctx, sqlEnsureExtension); err != nil {
		return false, fmt.Errorf("ensure vector extension: %w", err)
	}

	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	name = strings.ToLower(name)
	tbl := ident(name)
	params = params.withDefaults()

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(sqlCreateTable, tbl, dim)); err != nil {
		return false, fmt.Errorf("create collection %s: %w", name, err)
	}

	var indexSQL string
	switch indexType {
	case IndexHNSW:
		indexSQL = fmt.Sprintf(sqlCreateHNSWIndex, ident(name+"_vec_idx"), tbl,
			params.HNSWM, params.HNSWEfConstruction)
	case IndexIVFFlat:
		indexSQL = fmt.Sprintf(sqlCreateIVFFlatIndex, ident(name+"_vec_idx"), tbl,
			params.IVFLists)
	}
	if _, err := s.pool.Exec(ctx, indexSQL); err != nil {
		return false, fmt.Errorf("create %s index on %s: %w", indexType, name, err)
	}

	// Source lookups back the idempotency gate and per-source deletes.
	srcIdx := fmt.Sprintf(sqlCreateSourceIndex, ident(name+"_source_idx"), tbl)
	if _, err := s.pool.Exec(ctx, srcIdx); err != nil {
		return false, fmt.Errorf("create source index on %s: %w", name, err)
	}

	s.logger.Info("collection created",
		zap.String("collection", name),
		zap.Int("dim", dim),
		zap.String("index", indexType))
	return true, nil
}

// DropCollection removes the table. Dropping a missing collection returns
// false without error.
func (s *Store) DropCollection(ctx context.Context, name string) (bool, error) {
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(sqlDropTable, ident(name))); err != nil {
		return false, fmt.Errorf("drop collection %s: %w", name, err)
	}
	return true, nil
}

// DeleteBySource removes every chunk of one source and returns the count.
// An empty source is a caller bug, not a no-op.
func (s *Store) DeleteBySource(ctx context.Context, name, source string) (int64, error) {
	if strings.TrimSpace(source) == "" {
		return 0, fmt.Errorf("source must be non-empty")
	}
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("collection %s does not exist", name)
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(sqlDeleteBySource, ident(name)), source)
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CollectionDimension reads the declared vector dimension of a collection.
func (s *Store) CollectionDimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := s.pool.QueryRow(ctx, sqlCollectionDimension, s.schema, strings.ToLower(name)).Scan(&dim)
	if err != nil {
		return 0, fmt.Errorf("collection dimension %s: %w", name, err)
	}
	return dim, nil
}

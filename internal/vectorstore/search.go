package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/metrics"
)

// Row is one retrieved chunk. Distance is cosine distance for vector
// searches; FTSRank the lexical score for full-text searches. The unused
// score of each mode stays zero.
type Row struct {
	ID           int64
	Text         string
	Source       string
	Page         int
	Skillsets    []string
	Title        *string
	Author       *string
	URL          *string
	CreationDate time.Time
	Distance     float64
	FTSRank      float64
}

// SearchOptions narrows a vector search.
type SearchOptions struct {
	EfSearch  int      // HNSW candidate count for this query; 0 leaves the server default
	Sources   []string // restrict to these sources
	Threshold float64  // maximum cosine distance; 0 disables
}

// ReadEmbeddings returns the k nearest chunks to the query vector,
// ascending by cosine distance. The ef_search tuning is session-scoped so
// the whole query runs on one pooled connection.
func (s *Store) ReadEmbeddings(ctx context.Context, collection string, qvec []float32, k int, opts SearchOptions) ([]Row, error) {
	timer := time.Now()
	defer func() { metrics.RetrievalSeconds.Observe(time.Since(timer).Seconds()) }()

	exists, err := s.TableExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("collection %s does not exist", collection)
	}

	var conds []string
	args := []any{pgvector.NewVector(qvec), k}
	if len(opts.Sources) > 0 {
		args = append(args, opts.Sources)
		conds = append(conds, fmt.Sprintf("source = ANY($%d)", len(args)))
	}
	if opts.Threshold > 0 {
		args = append(args, opts.Threshold)
		conds = append(conds, fmt.Sprintf("embedding <-> $1 <= $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(sqlReadEmbeddings, sqlReadEmbeddingsCols, ident(collection), where)

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if opts.EfSearch > 0 {
		if _, err := conn.Exec(ctx, fmt.Sprintf(sqlSetEfSearch, opts.EfSearch)); err != nil {
			return nil, fmt.Errorf("set ef_search: %w", err)
		}
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Text, &r.Source, &r.Page, &r.Skillsets,
			&r.Title, &r.Author, &r.URL, &r.CreationDate, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadFTS returns the k best lexical matches for the query text, scored
// across the English and French vectors, descending by rank.
func (s *Store) ReadFTS(ctx context.Context, collection, query string, k int) ([]Row, error) {
	timer := time.Now()
	defer func() { metrics.RetrievalSeconds.Observe(time.Since(timer).Seconds()) }()

	exists, err := s.TableExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("collection %s does not exist", collection)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(sqlReadFTS, ident(collection)), query, k)
	if err != nil {
		return nil, fmt.Errorf("fts search %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Text, &r.Source, &r.Page, &r.CreationDate,
			&r.Title, &r.Author, &r.URL, &r.FTSRank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HybridRow is one fused result. The rank of a retriever that did not
// return the row is nil.
type HybridRow struct {
	Row
	Score      float64
	VectorRank *int
	FTSRank    *int
}

// ReadHybrid fuses a vector and a full-text search over the same query by
// Reciprocal Rank Fusion. rrfK dampens rank differences (default 60);
// topK truncates the fused list (default k).
func (s *Store) ReadHybrid(ctx context.Context, collection string, qvec []float32, query string, k, rrfK, topK int) ([]HybridRow, error) {
	if rrfK <= 0 {
		rrfK = 60
	}
	if topK <= 0 {
		topK = k
	}

	vecRows, err := s.ReadEmbeddings(ctx, collection, qvec, k, SearchOptions{})
	if err != nil {
		return nil, err
	}
	ftsRows, err := s.ReadFTS(ctx, collection, query, k)
	if err != nil {
		return nil, err
	}

	fused := fuseRRF(vecRows, ftsRows, rrfK)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	if len(fused) > 0 {
		s.logger.Debug("hybrid search fused",
			zap.String("collection", collection),
			zap.Int("results", len(fused)),
			zap.String("top_vector_rank", FormatRank(fused[0].VectorRank)),
			zap.String("top_fts_rank", FormatRank(fused[0].FTSRank)))
	}
	return fused, nil
}

// fuseRRF unions both result lists by row id, scoring each row as the sum
// of 1/(rrfK + rank) over the retrievers that returned it. Ranks are
// 1-based. Order is descending score; ties keep vector-list order first.
func fuseRRF(vecRows, ftsRows []Row, rrfK int) []HybridRow {
	byID := map[int64]*HybridRow{}
	var order []int64

	for i := range vecRows {
		rank := i + 1
		h := &HybridRow{Row: vecRows[i], VectorRank: &rank}
		h.Score += 1 / float64(rrfK+rank)
		byID[vecRows[i].ID] = h
		order = append(order, vecRows[i].ID)
	}
	for i := range ftsRows {
		rank := i + 1
		if h, ok := byID[ftsRows[i].ID]; ok {
			h.FTSRank = &rank
			h.Score += 1 / float64(rrfK+rank)
			continue
		}
		h := &HybridRow{Row: ftsRows[i], FTSRank: &rank}
		h.Score += 1 / float64(rrfK+rank)
		byID[ftsRows[i].ID] = h
		order = append(order, ftsRows[i].ID)
	}

	out := make([]HybridRow, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// FormatRank renders a nullable rank for logs and API payloads.
func FormatRank(r *int) string {
	if r == nil {
		return "-"
	}
	return strconv.Itoa(*r)
}

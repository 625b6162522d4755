package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/metrics"
	"github.com/RemilRLs/KnowHub/internal/pipeline"
)

// Chunk is a prepared row ready for insertion.
type Chunk struct {
	Text      string
	Embedding []float32
	Source    string
	Page      int
	Title     string
	Author    string
	URL       string
}

// PrepareChunks projects pipeline documents onto storable chunks. Only the
// durable metadata keys survive; everything else stays in the object store
// path. Empty texts are dropped; source defaults to "unknown".
func PrepareChunks(docs []pipeline.Document, embeddings [][]float32) ([]Chunk, error) {
	kept := make([]pipeline.Document, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.PageContent) != "" {
			kept = append(kept, d)
		}
	}
	if len(kept) != len(embeddings) {
		return nil, fmt.Errorf("have %d embeddings for %d non-empty chunks", len(embeddings), len(kept))
	}

	chunks := make([]Chunk, 0, len(kept))
	for i, d := range kept {
		source := d.Metadata.FileName
		if source == "" {
			source = "unknown"
		}
		chunks = append(chunks, Chunk{
			Text:      strings.TrimSpace(d.PageContent),
			Embedding: embeddings[i],
			Source:    source,
			Page:      d.Metadata.Page,
			Title:     d.Metadata.Title,
			Author:    d.Metadata.Author,
			URL:       d.Metadata.URL,
		})
	}
	return chunks, nil
}

// UpsertResult reports what an upsert actually did.
type UpsertResult struct {
	Inserted       int
	SkippedSources []string
	ChunkErrors    int
}

// sourceGroup is the run of chunks belonging to one source.
type sourceGroup struct {
	Source string
	Chunks []Chunk
}

// groupBySource buckets chunks by source, keeping groups in the order
// each source first appears.
func groupBySource(chunks []Chunk) []sourceGroup {
	index := map[string]int{}
	var groups []sourceGroup
	for _, c := range chunks {
		i, seen := index[c.Source]
		if !seen {
			i = len(groups)
			index[c.Source] = i
			groups = append(groups, sourceGroup{Source: c.Source})
		}
		groups[i].Chunks = append(groups[i].Chunks, c)
	}
	return groups
}

// partitionGroups splits groups into the ones to insert and the sources
// to skip because they already have rows. The skip is all-or-nothing per
// source: re-ingesting a document never inserts a partial tail.
func partitionGroups(groups []sourceGroup, existing map[string]bool) (inserts []sourceGroup, skipped []string) {
	for _, g := range groups {
		if existing[g.Source] {
			skipped = append(skipped, g.Source)
			continue
		}
		inserts = append(inserts, g)
	}
	return inserts, skipped
}

// UpsertChunks inserts chunks grouped by source, skipping every group
// whose source already has rows in the collection. Re-ingesting a document
// is therefore a no-op. Individual chunk failures are counted and logged;
// they never abort the batch.
func (s *Store) UpsertChunks(ctx context.Context, collection string, chunks []Chunk) (UpsertResult, error) {
	var res UpsertResult
	if len(chunks) == 0 {
		return res, nil
	}

	exists, err := s.TableExists(ctx, collection)
	if err != nil {
		return res, err
	}
	if !exists {
		return res, fmt.Errorf("collection %s does not exist", collection)
	}

	groups := groupBySource(chunks)
	sources := make([]string, len(groups))
	for i, g := range groups {
		sources[i] = g.Source
	}

	existing, err := s.existingSources(ctx, collection, sources)
	if err != nil {
		return res, err
	}
	inserts, skipped := partitionGroups(groups, existing)
	res.SkippedSources = skipped
	for _, source := range skipped {
		s.logger.Info("source already indexed, skipping",
			zap.String("collection", collection),
			zap.String("source", source))
	}

	tbl := ident(collection)
	insertSQL := fmt.Sprintf(sqlInsertChunk, tbl)

	for _, g := range inserts {
		for _, c := range g.Chunks {
			_, err := s.pool.Exec(ctx, insertSQL,
				pgvector.NewVector(c.Embedding),
				c.Text, c.Source, c.Page,
				nullable(c.Title), nullable(c.Author), nullable(c.URL))
			if err != nil {
				res.ChunkErrors++
				s.logger.Warn("chunk insert failed",
					zap.String("collection", collection),
					zap.String("source", c.Source),
					zap.Error(err))
				continue
			}
			res.Inserted++
		}
	}

	metrics.ChunksInserted.WithLabelValues(collection).Add(float64(res.Inserted))
	return res, nil
}

func (s *Store) existingSources(ctx context.Context, collection string, sources []string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(sqlExistingSources, ident(collection)), sources)
	if err != nil {
		return nil, fmt.Errorf("check existing sources: %w", err)
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		existing[src] = true
	}
	return existing, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

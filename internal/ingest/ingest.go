package ingest

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/config"
	"github.com/RemilRLs/KnowHub/internal/jobs"
	"github.com/RemilRLs/KnowHub/internal/metrics"
	"github.com/RemilRLs/KnowHub/internal/objstore"
	"github.com/RemilRLs/KnowHub/internal/pipeline"
	"github.com/RemilRLs/KnowHub/internal/uploads"
	"github.com/RemilRLs/KnowHub/internal/vectorstore"
)

// Actor names as enqueued on the wire.
const (
	ActorValidateAndPromote = "validate_and_promote"
	ActorIngestDocument     = "ingest_document"
)

// Bucket is the slice of the object store the ingest actors need.
type Bucket interface {
	GetFile(ctx context.Context, key, destPath string) (string, *objstore.ObjectMeta, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Remove(ctx context.Context, key string) error
}

// Store is the slice of the vector store the ingest actors need.
type Store interface {
	TableExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, dim int, indexType string, params vectorstore.IndexParams) (bool, error)
	UpsertChunks(ctx context.Context, collection string, chunks []vectorstore.Chunk) (vectorstore.UpsertResult, error)
}

// Embedder computes chunk vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Enqueuer hands follow-up work to the job broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, actor string, payload any) (string, error)
}

// Tracker updates upload records as the document moves through stages.
type Tracker interface {
	SetStatus(ctx context.Context, docID, status string) error
}

// Service implements the two ingest actors.
type Service struct {
	bucket   Bucket
	store    Store
	embedder Embedder
	broker   Enqueuer
	tracker  Tracker
	pipe     *pipeline.Pipeline
	cfg      *config.Config
	logger   *zap.Logger
}

func NewService(bucket Bucket, store Store, embedder Embedder, broker Enqueuer,
	tracker Tracker, pipe *pipeline.Pipeline, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		bucket:   bucket,
		store:    store,
		embedder: embedder,
		broker:   broker,
		tracker:  tracker,
		pipe:     pipe,
		cfg:      cfg,
		logger:   logger,
	}
}

// ValidatePayload is the argument object of validate_and_promote.
type ValidatePayload struct {
	DocID          string `json:"doc_id"`
	S3Key          string `json:"s3_key"`
	Filename       string `json:"filename"`
	Collection     string `json:"collection"`
	ChecksumSHA256 string `json:"checksum_sha256,omitempty"`
}

// ValidateResult is the stored result of validate_and_promote.
type ValidateResult struct {
	Stage        string              `json:"stage"`
	DocID        string              `json:"doc_id"`
	ProcessedKey string              `json:"processed_key"`
	NextJobID    string              `json:"next_job_id"`
	Meta         *objstore.ObjectMeta `json:"meta,omitempty"`
}

// ValidateAndPromote downloads the quarantined object, checks its SHA-256
// when the client supplied one, promotes it to processed/ and enqueues the
// indexing stage. A checksum mismatch deletes the upload — the client must
// re-upload, not retry.
func (s *Service) ValidateAndPromote(ctx context.Context, env jobs.Envelope) (any, error) {
	var p ValidatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	log := s.logger.With(zap.String("doc_id", p.DocID), zap.String("s3_key", p.S3Key))

	tmpDir, err := os.MkdirTemp("", "knowhub-validate-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	localPath := filepath.Join(tmpDir, filepath.Base(p.Filename))
	_, meta, err := s.bucket.GetFile(ctx, p.S3Key, localPath)
	if err != nil {
		s.failUpload(ctx, p.DocID)
		return nil, fmt.Errorf("download upload: %w", err)
	}

	if p.ChecksumSHA256 != "" {
		sum, err := fileSHA256(localPath)
		if err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare([]byte(sum), []byte(strings.ToLower(p.ChecksumSHA256))) != 1 {
			log.Warn("checksum mismatch, deleting upload",
				zap.String("expected", p.ChecksumSHA256),
				zap.String("actual", sum))
			if rerr := s.bucket.Remove(ctx, p.S3Key); rerr != nil {
				log.Error("delete mismatched upload failed", zap.Error(rerr))
			}
			s.failUpload(ctx, p.DocID)
			return nil, fmt.Errorf("checksum mismatch for %s", p.Filename)
		}
	}

	processedKey := objstore.ProcessedKey(p.S3Key)
	if err := s.bucket.Copy(ctx, p.S3Key, processedKey); err != nil {
		s.failUpload(ctx, p.DocID)
		return nil, fmt.Errorf("promote copy: %w", err)
	}
	if err := s.bucket.Remove(ctx, p.S3Key); err != nil {
		// The object now exists under both prefixes; removal is retried
		// implicitly because promotion is idempotent.
		return nil, fmt.Errorf("promote remove: %w", err)
	}

	if err := s.tracker.SetStatus(ctx, p.DocID, uploads.StatusPromoted); err != nil {
		log.Warn("update upload record failed", zap.Error(err))
	}

	nextJobID, err := s.broker.Enqueue(ctx, jobs.QueueIngestProcess, ActorIngestDocument, IngestPayload{
		DocID:        p.DocID,
		ProcessedKey: processedKey,
		Filename:     p.Filename,
		Collection:   p.Collection,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue ingest: %w", err)
	}

	log.Info("upload promoted",
		zap.String("processed_key", processedKey),
		zap.String("next_job_id", nextJobID))

	return ValidateResult{
		Stage:        "validated",
		DocID:        p.DocID,
		ProcessedKey: processedKey,
		NextJobID:    nextJobID,
		Meta:         meta,
	}, nil
}

// IngestPayload is the argument object of ingest_document.
type IngestPayload struct {
	DocID        string `json:"doc_id"`
	ProcessedKey string `json:"s3_key"`
	Filename     string `json:"filename"`
	Collection   string `json:"collection"`
}

// IngestResult is the stored result of ingest_document.
type IngestResult struct {
	Stage        string `json:"stage"`
	DocID        string `json:"doc_id"`
	ProcessedKey string `json:"processed_key"`
	PagesLoaded  int    `json:"pages_loaded"`
	Collection   string `json:"collection"`
	Inserted     int    `json:"inserted"`
	Skipped      int    `json:"skipped_sources"`
}

// IngestDocument downloads the promoted object, runs the pipeline, embeds
// the chunks and upserts them into the collection, creating it on first
// contact.
func (s *Service) IngestDocument(ctx context.Context, env jobs.Envelope) (any, error) {
	var p IngestPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	log := s.logger.With(
		zap.String("doc_id", p.DocID),
		zap.String("processed_key", p.ProcessedKey),
		zap.String("collection", p.Collection))

	ext := strings.ToLower(filepath.Ext(p.Filename))
	if !s.cfg.ExtensionAllowed(ext) {
		s.failUpload(ctx, p.DocID)
		return nil, fmt.Errorf("extension %q not allowed", ext)
	}

	tmpDir, err := os.MkdirTemp("", "knowhub-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	localPath := filepath.Join(tmpDir, filepath.Base(p.Filename))
	if _, _, err := s.bucket.GetFile(ctx, p.ProcessedKey, localPath); err != nil {
		return nil, fmt.Errorf("download processed object: %w", err)
	}

	chunks, loaded, err := s.pipe.Process(localPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	for i := range chunks {
		chunks[i].Metadata.DocID = p.DocID
		chunks[i].Metadata.ProcessedKey = p.ProcessedKey
		// The stable object key, never a presigned URL: signed URLs expire
		// and would leak their query credentials into the store. Clients
		// mint fresh download URLs from the key on demand.
		chunks[i].Metadata.URL = p.ProcessedKey
		chunks[i].Metadata.FileName = p.Filename
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.PageContent
	}
	embeddings, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	if err := s.ensureCollection(ctx, p.Collection); err != nil {
		return nil, err
	}

	prepared, err := vectorstore.PrepareChunks(chunks, embeddings)
	if err != nil {
		return nil, err
	}
	res, err := s.store.UpsertChunks(ctx, p.Collection, prepared)
	if err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}

	if err := s.tracker.SetStatus(ctx, p.DocID, uploads.StatusIndexed); err != nil {
		log.Warn("update upload record failed", zap.Error(err))
	}
	metrics.DocumentsIngested.WithLabelValues(p.Collection).Inc()

	log.Info("document indexed",
		zap.Int("pages_loaded", loaded),
		zap.Int("chunks", len(chunks)),
		zap.Int("inserted", res.Inserted),
		zap.Strings("skipped_sources", res.SkippedSources))

	return IngestResult{
		Stage:        "indexed",
		DocID:        p.DocID,
		ProcessedKey: p.ProcessedKey,
		PagesLoaded:  loaded,
		Collection:   p.Collection,
		Inserted:     res.Inserted,
		Skipped:      len(res.SkippedSources),
	}, nil
}

// Actors returns the actor registrations for a worker process.
func (s *Service) Actors() []jobs.Actor {
	return []jobs.Actor{
		{
			Name:        ActorValidateAndPromote,
			Queue:       jobs.QueueIngestValidate,
			MaxRetries:  0,
			StoreResult: true,
			Handler:     s.ValidateAndPromote,
		},
		{
			Name:        ActorIngestDocument,
			Queue:       jobs.QueueIngestProcess,
			MaxRetries:  3,
			StoreResult: true,
			Handler:     s.IngestDocument,
		},
	}
}

func (s *Service) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.store.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	created, err := s.store.CreateCollection(ctx, name, s.cfg.EmbedDim,
		vectorstore.IndexHNSW, vectorstore.IndexParams{})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	if created {
		s.logger.Info("collection auto-created", zap.String("collection", name))
	}
	return nil
}

func (s *Service) failUpload(ctx context.Context, docID string) {
	if err := s.tracker.SetStatus(ctx, docID, uploads.StatusFailed); err != nil {
		s.logger.Warn("mark upload failed",
			zap.String("doc_id", docID),
			zap.Error(err))
	}
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

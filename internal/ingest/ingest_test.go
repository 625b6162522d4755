package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/config"
	"github.com/RemilRLs/KnowHub/internal/jobs"
	"github.com/RemilRLs/KnowHub/internal/objstore"
	"github.com/RemilRLs/KnowHub/internal/pipeline"
	"github.com/RemilRLs/KnowHub/internal/vectorstore"
)

// fakeBucket keeps objects in a map keyed by object key.
type fakeBucket struct {
	objects map[string][]byte
	removed []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (b *fakeBucket) GetFile(_ context.Context, key, destPath string) (string, *objstore.ObjectMeta, error) {
	data, ok := b.objects[key]
	if !ok {
		return "", nil, fmt.Errorf("no such key %q", key)
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return "", nil, err
	}
	return destPath, &objstore.ObjectMeta{Size: int64(len(data)), ETag: "etag"}, nil
}

func (b *fakeBucket) Copy(_ context.Context, srcKey, dstKey string) error {
	data, ok := b.objects[srcKey]
	if !ok {
		return fmt.Errorf("no such key %q", srcKey)
	}
	b.objects[dstKey] = data
	return nil
}

func (b *fakeBucket) Remove(_ context.Context, key string) error {
	delete(b.objects, key)
	b.removed = append(b.removed, key)
	return nil
}

// fakeStore records upserts and pretends collections spring into being.
type fakeStore struct {
	tables   map[string]bool
	upserted map[string][]vectorstore.Chunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: map[string]bool{}, upserted: map[string][]vectorstore.Chunk{}}
}

func (s *fakeStore) TableExists(_ context.Context, name string) (bool, error) {
	return s.tables[name], nil
}

func (s *fakeStore) CreateCollection(_ context.Context, name string, dim int, indexType string, _ vectorstore.IndexParams) (bool, error) {
	if s.tables[name] {
		return false, nil
	}
	s.tables[name] = true
	return true, nil
}

func (s *fakeStore) UpsertChunks(_ context.Context, collection string, chunks []vectorstore.Chunk) (vectorstore.UpsertResult, error) {
	s.upserted[collection] = append(s.upserted[collection], chunks...)
	return vectorstore.UpsertResult{Inserted: len(chunks)}, nil
}

type fakeEmbedder struct{ dim int }

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
		out[i][0] = 1
	}
	return out, nil
}

type fakeBroker struct {
	queue   string
	actor   string
	payload any
	calls   int
}

func (b *fakeBroker) Enqueue(_ context.Context, queue, actor string, payload any) (string, error) {
	b.queue, b.actor, b.payload = queue, actor, payload
	b.calls++
	return "job-next", nil
}

type fakeTracker struct {
	statuses map[string]string
}

func (t *fakeTracker) SetStatus(_ context.Context, docID, status string) error {
	if t.statuses == nil {
		t.statuses = map[string]string{}
	}
	t.statuses[docID] = status
	return nil
}

func testService(bucket *fakeBucket, store *fakeStore, broker *fakeBroker, tracker *fakeTracker) *Service {
	cfg := &config.Config{
		EmbedDim:          4,
		AllowedExtensions: []string{".pdf", ".docx", ".pptx", ".txt", ".md"},
	}
	pipe := pipeline.New(pipeline.Options{ChunkChars: 200, ChunkOverlap: 20, MinChunkChars: 10}, zap.NewNop())
	return NewService(bucket, store, &fakeEmbedder{dim: 4}, broker, tracker, pipe, cfg, zap.NewNop())
}

func envelope(t *testing.T, payload any) jobs.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return jobs.Envelope{JobID: "j1", Payload: raw}
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestValidateAndPromoteHappyPath(t *testing.T) {
	bucket := newFakeBucket()
	content := []byte("hello ingest world")
	bucket.objects["uploads/d1/a.txt"] = content

	broker := &fakeBroker{}
	tracker := &fakeTracker{}
	svc := testService(bucket, newFakeStore(), broker, tracker)

	out, err := svc.ValidateAndPromote(context.Background(), envelope(t, ValidatePayload{
		DocID:          "d1",
		S3Key:          "uploads/d1/a.txt",
		Filename:       "a.txt",
		Collection:     "docs",
		ChecksumSHA256: checksumOf(content),
	}))
	require.NoError(t, err)

	res := out.(ValidateResult)
	assert.Equal(t, "validated", res.Stage)
	assert.Equal(t, "processed/d1/a.txt", res.ProcessedKey)
	assert.Equal(t, "job-next", res.NextJobID)

	// Promotion: present under processed/, absent under uploads/.
	assert.Contains(t, bucket.objects, "processed/d1/a.txt")
	assert.NotContains(t, bucket.objects, "uploads/d1/a.txt")

	assert.Equal(t, jobs.QueueIngestProcess, broker.queue)
	assert.Equal(t, ActorIngestDocument, broker.actor)
	assert.Equal(t, "promoted", tracker.statuses["d1"])
}

func TestValidateChecksumMismatchDeletesUpload(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["uploads/d1/a.txt"] = []byte("real bytes")

	broker := &fakeBroker{}
	tracker := &fakeTracker{}
	svc := testService(bucket, newFakeStore(), broker, tracker)

	_, err := svc.ValidateAndPromote(context.Background(), envelope(t, ValidatePayload{
		DocID:          "d1",
		S3Key:          "uploads/d1/a.txt",
		Filename:       "a.txt",
		Collection:     "docs",
		ChecksumSHA256: checksumOf([]byte("other bytes")),
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	// Failed validation leaves the object absent from both prefixes.
	assert.NotContains(t, bucket.objects, "uploads/d1/a.txt")
	assert.NotContains(t, bucket.objects, "processed/d1/a.txt")
	assert.Equal(t, 0, broker.calls)
	assert.Equal(t, "failed", tracker.statuses["d1"])
}

func TestValidateWithoutChecksumSkipsCheck(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["uploads/d1/a.txt"] = []byte("whatever")

	svc := testService(bucket, newFakeStore(), &fakeBroker{}, &fakeTracker{})

	out, err := svc.ValidateAndPromote(context.Background(), envelope(t, ValidatePayload{
		DocID:      "d1",
		S3Key:      "uploads/d1/a.txt",
		Filename:   "a.txt",
		Collection: "docs",
	}))
	require.NoError(t, err)
	assert.Equal(t, "validated", out.(ValidateResult).Stage)
}

func TestValidateMissingObject(t *testing.T) {
	tracker := &fakeTracker{}
	svc := testService(newFakeBucket(), newFakeStore(), &fakeBroker{}, tracker)

	_, err := svc.ValidateAndPromote(context.Background(), envelope(t, ValidatePayload{
		DocID:    "d1",
		S3Key:    "uploads/d1/gone.txt",
		Filename: "gone.txt",
	}))
	require.Error(t, err)
	assert.Equal(t, "failed", tracker.statuses["d1"])
}

func TestIngestDocumentIndexesChunks(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["processed/d1/a.txt"] = []byte(
		"This is the first paragraph with enough characters to survive chunking.\n\n" +
			"And a second paragraph, also long enough to pass the minimum size.")

	store := newFakeStore()
	tracker := &fakeTracker{}
	svc := testService(bucket, store, &fakeBroker{}, tracker)

	out, err := svc.IngestDocument(context.Background(), envelope(t, IngestPayload{
		DocID:        "d1",
		ProcessedKey: "processed/d1/a.txt",
		Filename:     "a.txt",
		Collection:   "docs",
	}))
	require.NoError(t, err)

	res := out.(IngestResult)
	assert.Equal(t, "indexed", res.Stage)
	assert.Equal(t, "docs", res.Collection)
	assert.Equal(t, 1, res.PagesLoaded)
	assert.Greater(t, res.Inserted, 0)

	assert.True(t, store.tables["docs"], "collection auto-created")
	require.NotEmpty(t, store.upserted["docs"])
	for _, c := range store.upserted["docs"] {
		assert.Equal(t, "a.txt", c.Source)
		assert.Len(t, c.Embedding, 4)
		// Durable object key, not a presigned URL that would go stale.
		assert.Equal(t, "processed/d1/a.txt", c.URL)
	}
	assert.Equal(t, "indexed", tracker.statuses["d1"])
}

func TestIngestDocumentPDFWithoutBackendFails(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["processed/d1/a.pdf"] = []byte("%PDF-1.4 stub")

	store := newFakeStore()
	svc := testService(bucket, store, &fakeBroker{}, &fakeTracker{})

	_, err := svc.IngestDocument(context.Background(), envelope(t, IngestPayload{
		DocID:        "d1",
		ProcessedKey: "processed/d1/a.pdf",
		Filename:     "a.pdf",
		Collection:   "docs",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrNoPDFBackend)
	assert.Empty(t, store.upserted["docs"])
}

func TestIngestDocumentRejectsDisallowedExtension(t *testing.T) {
	tracker := &fakeTracker{}
	svc := testService(newFakeBucket(), newFakeStore(), &fakeBroker{}, tracker)

	_, err := svc.IngestDocument(context.Background(), envelope(t, IngestPayload{
		DocID:        "d1",
		ProcessedKey: "processed/d1/malware.exe",
		Filename:     "malware.exe",
		Collection:   "docs",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".exe")
	assert.Equal(t, "failed", tracker.statuses["d1"])
}

func TestIngestDocumentMissingObject(t *testing.T) {
	svc := testService(newFakeBucket(), newFakeStore(), &fakeBroker{}, &fakeTracker{})

	_, err := svc.IngestDocument(context.Background(), envelope(t, IngestPayload{
		DocID:        "d1",
		ProcessedKey: "processed/d1/a.txt",
		Filename:     "a.txt",
		Collection:   "docs",
	}))
	require.Error(t, err)
}

func TestActorsRegistration(t *testing.T) {
	svc := testService(newFakeBucket(), newFakeStore(), &fakeBroker{}, &fakeTracker{})
	actors := svc.Actors()
	require.Len(t, actors, 2)

	assert.Equal(t, ActorValidateAndPromote, actors[0].Name)
	assert.Equal(t, 0, actors[0].MaxRetries)
	assert.True(t, actors[0].StoreResult)

	assert.Equal(t, ActorIngestDocument, actors[1].Name)
	assert.Equal(t, 3, actors[1].MaxRetries)
}

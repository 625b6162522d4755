package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Upload statuses, in lifecycle order.
const (
	StatusPresigned = "presigned"
	StatusPromoted  = "promoted"
	StatusIndexed   = "indexed"
	StatusFailed    = "failed"
)

var (
	// ErrRecordExpired means the presign window closed before enqueue.
	ErrRecordExpired = errors.New("upload record expired or unknown")
	// ErrPairMismatch means the submitted (doc_id, s3_key) pair does not
	// match what was presigned.
	ErrPairMismatch = errors.New("doc_id and s3_key do not match the upload record")
)

// recordGrace keeps the record readable a little past URL expiry so a
// client that uploaded at the last second can still enqueue.
const recordGrace = 120 * time.Second

func recordKey(docID string) string {
	return "knowhub:upload:" + docID
}

// Record coordinates the presign handshake between the API and the
// validate job.
type Record struct {
	DocID     string    `json:"doc_id"`
	S3Key     string    `json:"s3_key"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Tracker stores upload records in Redis with a bounded lifetime.
type Tracker struct {
	rdb *redis.Client
}

func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb}
}

// Create writes a fresh presigned record living expiresIn plus grace.
func (t *Tracker) Create(ctx context.Context, docID, s3Key, filename string, expiresIn time.Duration) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		DocID:     docID,
		S3Key:     s3Key,
		Filename:  filename,
		Status:    StatusPresigned,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	}
	if err := t.write(ctx, rec, expiresIn+recordGrace); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get loads a record; a missing key means the record expired.
func (t *Tracker) Get(ctx context.Context, docID string) (*Record, error) {
	body, err := t.rdb.Get(ctx, recordKey(docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordExpired
	}
	if err != nil {
		return nil, fmt.Errorf("get upload record %s: %w", docID, err)
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode upload record %s: %w", docID, err)
	}
	return &rec, nil
}

// Match verifies the submitted pair against the stored record and returns
// the record on success.
func (t *Tracker) Match(ctx context.Context, docID, s3Key string) (*Record, error) {
	rec, err := t.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if rec.S3Key != s3Key {
		return nil, ErrPairMismatch
	}
	return rec, nil
}

// SetStatus updates the status in place, keeping the remaining TTL.
func (t *Tracker) SetStatus(ctx context.Context, docID, status string) error {
	rec, err := t.Get(ctx, docID)
	if err != nil {
		return err
	}
	rec.Status = status
	return t.write(ctx, rec, redis.KeepTTL)
}

func (t *Tracker) write(ctx context.Context, rec *Record, ttl time.Duration) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal upload record: %w", err)
	}
	if err := t.rdb.Set(ctx, recordKey(rec.DocID), body, ttl).Err(); err != nil {
		return fmt.Errorf("store upload record %s: %w", rec.DocID, err)
	}
	return nil
}

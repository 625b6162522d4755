package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue names used by the actors.
const (
	QueueIngestValidate = "ingest-validate"
	QueueIngestProcess  = "ingest-process"
	QueueGeneration     = "generation"
)

func queueKey(queue string) string {
	return "knowhub:queue:" + queue
}

// Envelope is the message stored on a queue stream. Payload is the
// actor-specific argument object, marshaled once at enqueue time.
type Envelope struct {
	JobID      string          `json:"job_id"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload"`
	Retries    int             `json:"retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Broker enqueues work onto Redis streams and hands results back through
// the result backend.
type Broker struct {
	rdb *redis.Client
}

// NewBroker wraps an existing Redis client.
func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Enqueue appends a new job to the queue and returns its id.
func (b *Broker) Enqueue(ctx context.Context, queue, actor string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		JobID:      uuid.NewString(),
		Actor:      actor,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := b.append(ctx, queue, env); err != nil {
		return "", err
	}
	return env.JobID, nil
}

// EnqueueWithID enqueues under a caller-chosen job id. Streaming jobs use
// this so the client can subscribe to the event log before the worker
// starts.
func (b *Broker) EnqueueWithID(ctx context.Context, queue, actor, jobID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return b.append(ctx, queue, Envelope{
		JobID:      jobID,
		Actor:      actor,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
}

func (b *Broker) append(ctx context.Context, queue string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: queueKey(queue),
		Values: map[string]any{"envelope": body},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue on %s: %w", queue, err)
	}
	return nil
}

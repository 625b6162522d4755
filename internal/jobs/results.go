package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// resultTTL bounds how long a finished job's result stays readable.
const resultTTL = time.Hour

func resultKey(jobID string) string {
	return "knowhub:results:" + jobID
}

// Result is the stored outcome of a job.
type Result struct {
	JobID   string          `json:"job_id"`
	Status  string          `json:"status"` // "success" or "error"
	Value   json.RawMessage `json:"value,omitempty"`
	Error   string          `json:"error,omitempty"`
	EndedAt time.Time       `json:"ended_at"`
}

// StoreResult persists the outcome under the job id with a 1h TTL.
func (b *Broker) StoreResult(ctx context.Context, res Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := b.rdb.Set(ctx, resultKey(res.JobID), body, resultTTL).Err(); err != nil {
		return fmt.Errorf("store result %s: %w", res.JobID, err)
	}
	return nil
}

// Poll states returned by PollResult.
const (
	PollDone    = "done"
	PollPending = "pending"
	PollTimeout = "timeout"
)

// PollResult waits up to wait for the result of jobID, checking at a
// short fixed interval. The state is "done" with the result, "pending"
// when wait was zero and nothing is there yet, or "timeout".
func (b *Broker) PollResult(ctx context.Context, jobID string, wait time.Duration) (string, *Result, error) {
	deadline := time.Now().Add(wait)

	for {
		body, err := b.rdb.Get(ctx, resultKey(jobID)).Bytes()
		switch {
		case err == nil:
			var res Result
			if err := json.Unmarshal(body, &res); err != nil {
				return "", nil, fmt.Errorf("decode result %s: %w", jobID, err)
			}
			return PollDone, &res, nil
		case errors.Is(err, redis.Nil):
			// keep waiting
		default:
			return "", nil, fmt.Errorf("poll result %s: %w", jobID, err)
		}

		if wait <= 0 {
			return PollPending, nil, nil
		}
		if time.Now().After(deadline) {
			return PollTimeout, nil, nil
		}

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

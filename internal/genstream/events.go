package genstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RemilRLs/KnowHub/internal/metrics"
)

// Event types on a generation stream.
const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// streamTTL bounds how long an abandoned stream lingers. Each append
// refreshes it.
const streamTTL = time.Hour

// StreamKey returns the event-log key of one generation job.
func StreamKey(jobID string) string {
	return "knowhub:stream:" + jobID
}

func terminalKey(jobID string) string {
	return "knowhub:stream:" + jobID + ":terminal"
}

// Event is one decoded entry from a generation stream.
type Event struct {
	ID   string
	Type string
	Data string // JSON for done/error, plain text for token
}

// EventLog publishes and reads per-job event streams. Each log accepts at
// most one terminal (done or error) event; later terminals are dropped.
type EventLog struct {
	rdb *redis.Client
}

func NewEventLog(rdb *redis.Client) *EventLog {
	return &EventLog{rdb: rdb}
}

// AppendToken publishes one token fragment.
func (l *EventLog) AppendToken(ctx context.Context, jobID, token string) error {
	return l.append(ctx, jobID, EventToken, token)
}

// AppendDone publishes the single success terminal with its metadata.
func (l *EventLog) AppendDone(ctx context.Context, jobID string, data any) error {
	return l.appendTerminal(ctx, jobID, EventDone, data)
}

// AppendError publishes the single failure terminal.
func (l *EventLog) AppendError(ctx context.Context, jobID, message string) error {
	return l.appendTerminal(ctx, jobID, EventError, map[string]string{"error": message})
}

func (l *EventLog) appendTerminal(ctx context.Context, jobID, typ string, data any) error {
	// SETNX guards the one-terminal-per-stream invariant across retries.
	ok, err := l.rdb.SetNX(ctx, terminalKey(jobID), typ, streamTTL).Result()
	if err != nil {
		return fmt.Errorf("terminal guard %s: %w", jobID, err)
	}
	if !ok {
		return nil
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return l.append(ctx, jobID, typ, string(body))
}

func (l *EventLog) append(ctx context.Context, jobID, typ, data string) error {
	key := StreamKey(jobID)
	err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"type": typ, "data": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("append %s to %s: %w", typ, jobID, err)
	}
	if err := l.rdb.Expire(ctx, key, streamTTL).Err(); err != nil {
		return fmt.Errorf("refresh ttl %s: %w", jobID, err)
	}
	metrics.StreamEvents.WithLabelValues(typ).Inc()
	return nil
}

// Read blocks up to block for new events after lastID. It returns at most
// count events; an empty slice means the block expired quietly.
func (l *EventLog) Read(ctx context.Context, jobID, lastID string, count int64, block time.Duration) ([]Event, error) {
	res, err := l.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StreamKey(jobID), lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", jobID, err)
	}

	var events []Event
	for _, stream := range res {
		for _, msg := range stream.Messages {
			ev := Event{ID: msg.ID}
			if t, ok := msg.Values["type"].(string); ok {
				ev.Type = t
			}
			if d, ok := msg.Values["data"].(string); ok {
				ev.Data = d
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

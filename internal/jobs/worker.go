package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/metrics"
)

// Handler runs one job. The returned value is stored as the job result
// when the actor keeps results.
type Handler func(ctx context.Context, env Envelope) (any, error)

// Actor binds a named handler to a queue with a retry budget.
type Actor struct {
	Name        string
	Queue       string
	MaxRetries  int
	StoreResult bool
	Handler     Handler
}

// Worker consumes queue streams through a consumer group and dispatches
// to registered actors. Delivery is at-least-once: a crash between
// handler and ack re-delivers via the pending-entries claim pass.
type Worker struct {
	rdb      *redis.Client
	broker   *Broker
	group    string
	consumer string
	logger   *zap.Logger

	actors map[string]Actor // actor name -> actor
	queues []string
}

// NewWorker builds a worker consuming as consumer within group.
func NewWorker(rdb *redis.Client, group, consumer string, logger *zap.Logger) *Worker {
	return &Worker{
		rdb:      rdb,
		broker:   NewBroker(rdb),
		group:    group,
		consumer: consumer,
		logger:   logger,
		actors:   map[string]Actor{},
	}
}

// Register adds an actor. Registering two actors with one name is a
// programming error.
func (w *Worker) Register(a Actor) {
	if _, dup := w.actors[a.Name]; dup {
		panic(fmt.Sprintf("actor %s registered twice", a.Name))
	}
	w.actors[a.Name] = a

	for _, q := range w.queues {
		if q == a.Queue {
			return
		}
	}
	w.queues = append(w.queues, a.Queue)
}

// Run consumes until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.queues) == 0 {
		return errors.New("no actors registered")
	}

	for _, q := range w.queues {
		err := w.rdb.XGroupCreateMkStream(ctx, queueKey(q), w.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group on %s: %w", q, err)
		}
	}

	streams := make([]string, 0, 2*len(w.queues))
	for _, q := range w.queues {
		streams = append(streams, queueKey(q))
	}
	for range w.queues {
		streams = append(streams, ">")
	}

	w.logger.Info("worker started",
		zap.Strings("queues", w.queues),
		zap.String("consumer", w.consumer))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.claimStale(ctx)

		res, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.group,
			Consumer: w.consumer,
			Streams:  streams,
			Count:    1,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Warn("read group failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				w.handleMessage(ctx, stream.Stream, msg)
			}
		}
	}
}

// staleClaimMinIdle is how long a pending entry must sit idle before
// another consumer takes it over. The idle clock starts at delivery and
// is never refreshed mid-handler, so this must exceed the slowest
// handler's runtime or a live job gets claimed and runs twice.
const staleClaimMinIdle = 10 * time.Minute

// claimStale takes over messages another consumer left pending longer
// than staleClaimMinIdle, e.g. after a crash.
func (w *Worker) claimStale(ctx context.Context) {
	for _, q := range w.queues {
		msgs, _, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   queueKey(q),
			Group:    w.group,
			Consumer: w.consumer,
			MinIdle:  staleClaimMinIdle,
			Start:    "0-0",
			Count:    10,
		}).Result()
		if err != nil || len(msgs) == 0 {
			continue
		}
		for _, msg := range msgs {
			w.handleMessage(ctx, queueKey(q), msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, stream string, msg redis.XMessage) {
	// Ack regardless of outcome: retries re-enqueue a fresh message.
	defer w.rdb.XAck(ctx, stream, w.group, msg.ID)

	queue := strings.TrimPrefix(stream, "knowhub:queue:")

	raw, ok := msg.Values["envelope"].(string)
	if !ok {
		w.logger.Error("message without envelope", zap.String("stream", stream), zap.String("id", msg.ID))
		return
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		w.logger.Error("undecodable envelope", zap.String("stream", stream), zap.Error(err))
		return
	}

	actor, ok := w.actors[env.Actor]
	if !ok {
		w.logger.Error("no actor for message",
			zap.String("actor", env.Actor),
			zap.String("job_id", env.JobID))
		return
	}

	log := w.logger.With(
		zap.String("actor", actor.Name),
		zap.String("job_id", env.JobID),
		zap.Int("retries", env.Retries))
	log.Info("job started")

	value, err := actor.Handler(ctx, env)
	if err == nil {
		log.Info("job finished")
		if actor.StoreResult {
			w.storeSuccess(ctx, env.JobID, value, log)
		}
		return
	}

	log.Warn("job failed", zap.Error(err))
	metrics.JobsFailed.WithLabelValues(actor.Name).Inc()

	if env.Retries < actor.MaxRetries {
		env.Retries++
		if aerr := w.broker.append(ctx, queue, env); aerr != nil {
			log.Error("retry enqueue failed", zap.Error(aerr))
		}
		return
	}

	if actor.StoreResult {
		res := Result{
			JobID:   env.JobID,
			Status:  "error",
			Error:   err.Error(),
			EndedAt: time.Now().UTC(),
		}
		if serr := w.broker.StoreResult(ctx, res); serr != nil {
			log.Error("store error result failed", zap.Error(serr))
		}
	}
}

func (w *Worker) storeSuccess(ctx context.Context, jobID string, value any, log *zap.Logger) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Error("marshal job result failed", zap.Error(err))
		return
	}
	res := Result{
		JobID:   jobID,
		Status:  "success",
		Value:   raw,
		EndedAt: time.Now().UTC(),
	}
	if err := w.broker.StoreResult(ctx, res); err != nil {
		log.Error("store result failed", zap.Error(err))
	}
}

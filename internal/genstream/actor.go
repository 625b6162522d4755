package genstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/config"
	"github.com/RemilRLs/KnowHub/internal/jobs"
	"github.com/RemilRLs/KnowHub/internal/llm"
	"github.com/RemilRLs/KnowHub/internal/metrics"
	"github.com/RemilRLs/KnowHub/internal/vectorstore"
)

// Actor names as enqueued on the wire.
const (
	ActorGenerateAnswer       = "generate_answer"
	ActorGenerateAnswerStream = "generate_answer_stream"
)

// Retriever is the slice of the vector store the generation actors need.
type Retriever interface {
	TableExists(ctx context.Context, name string) (bool, error)
	ReadEmbeddings(ctx context.Context, collection string, qvec []float32, k int, opts vectorstore.SearchOptions) ([]vectorstore.Row, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service implements the generation actors.
type Service struct {
	store    Retriever
	embedder QueryEmbedder
	llm      llm.Client
	events   *EventLog
	sessions *SessionWriter
	cfg      *config.Config
	logger   *zap.Logger
}

func NewService(store Retriever, embedder QueryEmbedder, client llm.Client,
	events *EventLog, sessions *SessionWriter, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		llm:      client,
		events:   events,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// GeneratePayload is the argument object of both generation actors.
type GeneratePayload struct {
	JobID       string   `json:"job_id,omitempty"` // streaming correlation id
	Query       string   `json:"query"`
	Collection  string   `json:"collection"`
	K           int      `json:"k,omitempty"`
	EfSearch    int      `json:"ef_search,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	// Temperature is a pointer so an explicit 0 (deterministic sampling)
	// is distinguishable from "use the configured default".
	Temperature *float64 `json:"temperature,omitempty"`
}

func (p *GeneratePayload) applyDefaults(cfg *config.Config) {
	if p.K <= 0 {
		p.K = 10
	}
	if p.EfSearch <= 0 {
		p.EfSearch = 150
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = cfg.LLMMaxTokens
	}
	if p.Temperature == nil {
		temp := cfg.LLMTemperature
		p.Temperature = &temp
	}
}

// Actors returns the actor registrations for a worker process. The
// streaming actor stores no result: the event log is its result.
func (s *Service) Actors() []jobs.Actor {
	return []jobs.Actor{
		{
			Name:        ActorGenerateAnswer,
			Queue:       jobs.QueueGeneration,
			MaxRetries:  3,
			StoreResult: true,
			Handler:     s.GenerateAnswer,
		},
		{
			Name:        ActorGenerateAnswerStream,
			Queue:       jobs.QueueGeneration,
			MaxRetries:  3,
			StoreResult: false,
			Handler:     s.GenerateAnswerStream,
		},
	}
}

// retrieve embeds the query and fetches the top-k rows.
func (s *Service) retrieve(ctx context.Context, p GeneratePayload) ([]vectorstore.Row, error) {
	qvec, err := s.embedder.EmbedQuery(ctx, p.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.ReadEmbeddings(ctx, p.Collection, qvec, p.K, vectorstore.SearchOptions{
		EfSearch:  p.EfSearch,
		Sources:   p.Sources,
		Threshold: p.Threshold,
	})
}

// GenerateAnswer is the non-streaming variant: retrieval plus one chat
// completion, returned through the result backend.
func (s *Service) GenerateAnswer(ctx context.Context, env jobs.Envelope) (any, error) {
	var p GeneratePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	p.applyDefaults(s.cfg)

	start := time.Now()

	exists, err := s.store.TableExists(ctx, p.Collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return map[string]any{
			"status": "error",
			"error":  fmt.Sprintf("Collection '%s' does not exist.", p.Collection),
			"query":  p.Query,
		}, nil
	}

	retrievalStart := time.Now()
	rows, err := s.retrieve(ctx, p)
	if err != nil {
		return nil, err
	}
	retrievalMs := float64(time.Since(retrievalStart).Microseconds()) / 1000

	if len(rows) == 0 {
		return map[string]any{
			"status":             "success",
			"query":              p.Query,
			"answer":             emptyKnowledgeAnswer,
			"sources":            []string{},
			"retrieved_chunks":   0,
			"retrieval_time_ms":  retrievalMs,
			"generation_time_ms": 0,
			"total_time_ms":      float64(time.Since(start).Microseconds()) / 1000,
		}, nil
	}

	msgs := BuildMessages(BuildContextBlock(rows), p.Query)

	genStart := time.Now()
	answer, err := s.llm.GenerateChat(ctx, msgs, llm.Options{
		Model:       s.cfg.LLMModel,
		Temperature: *p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	genMs := float64(time.Since(genStart).Microseconds()) / 1000
	metrics.GenerationSeconds.Observe(time.Since(genStart).Seconds())

	return map[string]any{
		"status":             "success",
		"query":              p.Query,
		"answer":             answer,
		"sources":            UniqueSources(rows),
		"retrieved_chunks":   len(rows),
		"retrieval_time_ms":  retrievalMs,
		"generation_time_ms": genMs,
		"total_time_ms":      float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// GenerateAnswerStream runs retrieval and streams the generation into the
// job's event log. Every failure after the stream opens becomes a
// terminal error event rather than a worker retry: the subscriber is
// already listening.
func (s *Service) GenerateAnswerStream(ctx context.Context, env jobs.Envelope) (any, error) {
	var p GeneratePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	p.applyDefaults(s.cfg)

	jobID := p.JobID
	if jobID == "" {
		jobID = env.JobID
	}
	log := s.logger.With(
		zap.String("job_id", jobID),
		zap.String("collection", p.Collection))

	start := time.Now()

	exists, err := s.store.TableExists(ctx, p.Collection)
	if err != nil {
		s.publishError(ctx, jobID, err.Error(), log)
		return nil, nil
	}
	if !exists {
		s.publishError(ctx, jobID,
			fmt.Sprintf("Collection '%s' does not exist.", p.Collection), log)
		return nil, nil
	}

	retrievalStart := time.Now()
	rows, err := s.retrieve(ctx, p)
	if err != nil {
		s.publishError(ctx, jobID, err.Error(), log)
		return nil, nil
	}
	retrievalMs := float64(time.Since(retrievalStart).Microseconds()) / 1000
	log.Info("retrieval finished",
		zap.Int("chunks", len(rows)),
		zap.Float64("retrieval_time_ms", retrievalMs))

	if len(rows) == 0 {
		if err := s.events.AppendToken(ctx, jobID, emptyKnowledgeAnswer); err != nil {
			log.Error("publish empty-knowledge token failed", zap.Error(err))
			return nil, nil
		}
		done := map[string]any{
			"sources":            []string{},
			"retrieved_chunks":   0,
			"retrieval_time_ms":  retrievalMs,
			"generation_time_ms": 0,
			"total_time_ms":      float64(time.Since(start).Microseconds()) / 1000,
		}
		if err := s.events.AppendDone(ctx, jobID, done); err != nil {
			log.Error("publish done failed", zap.Error(err))
		}
		s.saveSession(jobID, p, emptyKnowledgeAnswer, nil, done, log)
		return nil, nil
	}

	msgs := BuildMessages(BuildContextBlock(rows), p.Query)
	opts := llm.Options{
		Model:       s.cfg.LLMModel,
		Temperature: *p.Temperature,
		MaxTokens:   p.MaxTokens,
	}

	var answer strings.Builder
	genStart := time.Now()

	emit := func(token string) error {
		answer.WriteString(token)
		return s.events.AppendToken(ctx, jobID, token)
	}

	if streamer, ok := s.llm.(llm.Streamer); ok {
		err = streamer.StreamChat(ctx, msgs, opts, emit)
	} else {
		// Provider cannot stream: one completion, one token event.
		var full string
		full, err = s.llm.GenerateChat(ctx, msgs, opts)
		if err == nil {
			err = emit(full)
		}
	}
	if err != nil {
		s.publishError(ctx, jobID, err.Error(), log)
		return nil, nil
	}

	genMs := float64(time.Since(genStart).Microseconds()) / 1000
	metrics.GenerationSeconds.Observe(time.Since(genStart).Seconds())

	done := map[string]any{
		"sources":            UniqueSources(rows),
		"retrieved_chunks":   len(rows),
		"retrieval_time_ms":  retrievalMs,
		"generation_time_ms": genMs,
		"total_time_ms":      float64(time.Since(start).Microseconds()) / 1000,
		"chunk_map":          ChunkMap(rows),
		"temperature":        *p.Temperature,
		"max_tokens":         p.MaxTokens,
		"k":                  p.K,
	}
	if err := s.events.AppendDone(ctx, jobID, done); err != nil {
		log.Error("publish done failed", zap.Error(err))
		return nil, nil
	}

	s.saveSession(jobID, p, answer.String(), UniqueSources(rows), done, log)
	log.Info("stream finished",
		zap.Int("answer_chars", answer.Len()),
		zap.Float64("generation_time_ms", genMs))
	return nil, nil
}

func (s *Service) publishError(ctx context.Context, jobID, message string, log *zap.Logger) {
	log.Warn("stream failed", zap.String("error", message))
	if err := s.events.AppendError(ctx, jobID, message); err != nil {
		log.Error("publish error event failed", zap.Error(err))
	}
}

func (s *Service) saveSession(jobID string, p GeneratePayload, answer string,
	sources []string, meta map[string]any, log *zap.Logger) {
	if sources == nil {
		sources = []string{}
	}
	_, err := s.sessions.Save(Session{
		JobID:      jobID,
		Timestamp:  time.Now().UTC(),
		Query:      p.Query,
		Answer:     answer,
		Collection: p.Collection,
		Sources:    sources,
		Metadata:   meta,
	})
	if err != nil {
		log.Warn("persist session failed", zap.Error(err))
	}
}

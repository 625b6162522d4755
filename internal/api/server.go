package api

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/config"
	"github.com/RemilRLs/KnowHub/internal/genstream"
	"github.com/RemilRLs/KnowHub/internal/jobs"
	"github.com/RemilRLs/KnowHub/internal/uploads"
)

// Bucket is the slice of the object store the HTTP layer needs.
type Bucket interface {
	PresignedPutURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// Tracker coordinates the presign handshake.
type Tracker interface {
	Create(ctx context.Context, docID, s3Key, filename string, expiresIn time.Duration) (*uploads.Record, error)
	Match(ctx context.Context, docID, s3Key string) (*uploads.Record, error)
}

// Broker submits jobs and polls their results.
type Broker interface {
	Enqueue(ctx context.Context, queue, actor string, payload any) (string, error)
	EnqueueWithID(ctx context.Context, queue, actor, jobID string, payload any) error
	PollResult(ctx context.Context, jobID string, wait time.Duration) (string, *jobs.Result, error)
}

// Store is the slice of the vector store the HTTP layer needs.
type Store interface {
	ListCollections(ctx context.Context) ([]string, error)
}

// EventReader subscribes to per-job generation streams.
type EventReader interface {
	Read(ctx context.Context, jobID, lastID string, count int64, block time.Duration) ([]genstream.Event, error)
}

// Embedder backs the embedding passthrough route.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	bucket   Bucket
	tracker  Tracker
	broker   Broker
	store    Store
	events   EventReader
	embedder Embedder
	cfg      *config.Config
	logger   *zap.Logger

	streamSeq atomic.Int64 // local nonce for stream job ids
}

func NewServer(bucket Bucket, tracker Tracker, broker Broker, store Store,
	events EventReader, embedder Embedder, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		bucket:   bucket,
		tracker:  tracker,
		broker:   broker,
		store:    store,
		events:   events,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		ing := api.Group("/ingest")
		ing.POST("/upload/presign", s.handlePresign)
		ing.POST("/upload/presign/batch", s.handlePresignBatch)
		ing.POST("/enqueue", s.handleEnqueue)
		ing.POST("/enqueue/batch", s.handleEnqueueBatch)
		ing.GET("/status", s.handleIngestStatus)
		ing.POST("/embed", s.handleEmbed)

		gen := api.Group("/generate")
		gen.POST("/", s.handleGenerateSubmit)
		gen.POST("/status", s.handleGenerateStatus)
		gen.GET("/stream", s.handleGenerateStream)

		api.GET("/files/download", s.handleDownloadURL)
		api.GET("/collections/", s.handleListCollections)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "knowhub-api"})
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// floatQueryPtr returns nil when the parameter is absent or malformed.
// Presence matters for parameters like temperature, where an explicit 0
// must not collapse into "unset".
func floatQueryPtr(c *gin.Context, name string) *float64 {
	v := c.Query(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

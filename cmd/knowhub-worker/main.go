package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/config"
	"github.com/RemilRLs/KnowHub/internal/embed"
	"github.com/RemilRLs/KnowHub/internal/genstream"
	"github.com/RemilRLs/KnowHub/internal/ingest"
	"github.com/RemilRLs/KnowHub/internal/jobs"
	"github.com/RemilRLs/KnowHub/internal/llm"
	"github.com/RemilRLs/KnowHub/internal/logging"
	"github.com/RemilRLs/KnowHub/internal/objstore"
	"github.com/RemilRLs/KnowHub/internal/pipeline"
	"github.com/RemilRLs/KnowHub/internal/uploads"
	"github.com/RemilRLs/KnowHub/internal/vectorstore"
)

const (
	settingsPath  = "config/settings.json"
	consumerGroup = "knowhub-workers"
)

func main() {
	logger := logging.New()
	defer logger.Sync()

	cfg, err := config.Load(settingsPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bucket, err := objstore.New(ctx, objstore.Options{
		Endpoint:       cfg.MinioEndpoint,
		PublicEndpoint: cfg.MinioPublicEndpoint,
		AccessKey:      cfg.MinioAccessKey,
		SecretKey:      cfg.MinioSecretKey,
		Bucket:         cfg.MinioBucket,
		Secure:         cfg.MinioSecure,
	}, logger)
	if err != nil {
		logger.Fatal("connect object store", zap.Error(err))
	}

	store, err := vectorstore.New(ctx, cfg.PostgresDSN, cfg.PoolMinSize, cfg.PoolMaxSize, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	embedder := embed.Shared(cfg.EmbedEndpoint, cfg.EmbedDim, cfg.EmbedBatch, logger)

	llmClient, err := llm.New(cfg, logger)
	if err != nil {
		logger.Fatal("build llm client", zap.Error(err))
	}

	pipe := pipeline.New(pipeline.Options{
		MaxFileBytes:     cfg.MaxFileBytes,
		ChunkChars:       cfg.ChunkChars,
		ChunkOverlap:     cfg.ChunkOverlap,
		MinChunkChars:    cfg.MinChunkChars,
		ExtractTables:    true,
		TableMinAccuracy: cfg.TableMinAccuracy,
	}, logger)

	broker := jobs.NewBroker(rdb)
	tracker := uploads.NewTracker(rdb)

	ingestSvc := ingest.NewService(bucket, store, embedder, broker, tracker, pipe, cfg, logger)
	genSvc := genstream.NewService(store, embedder, llmClient,
		genstream.NewEventLog(rdb), genstream.NewSessionWriter(cfg.DataDir), cfg, logger)

	hostname, _ := os.Hostname()
	consumer := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	worker := jobs.NewWorker(rdb, consumerGroup, consumer, logger)
	for _, a := range ingestSvc.Actors() {
		worker.Register(a)
	}
	for _, a := range genSvc.Actors() {
		worker.Register(a)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/api"
	"github.com/RemilRLs/KnowHub/internal/config"
	"github.com/RemilRLs/KnowHub/internal/embed"
	"github.com/RemilRLs/KnowHub/internal/genstream"
	"github.com/RemilRLs/KnowHub/internal/jobs"
	"github.com/RemilRLs/KnowHub/internal/logging"
	"github.com/RemilRLs/KnowHub/internal/objstore"
	"github.com/RemilRLs/KnowHub/internal/uploads"
	"github.com/RemilRLs/KnowHub/internal/vectorstore"
)

const settingsPath = "config/settings.json"

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

	srv := api.NewServer(
		bucket,
		uploads.NewTracker(rdb),
		jobs.NewBroker(rdb),
		store,
		genstream.NewEventLog(rdb),
		embedder,
		cfg, logger)

	gin.SetMode(gin.ReleaseMode)

	addr := ":" + envOr("API_PORT", "8000")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("api listening", zap.String("addr", addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
	logger.Info("api stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rollbook/internal/cloudinary"
	"rollbook/internal/config"
	"rollbook/internal/logging"
	"rollbook/internal/queue"
	"rollbook/internal/report"
	"rollbook/internal/store"
)

// Worker consumes report archive jobs, renders each report again and
// uploads it to Cloudinary.
func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("worker")
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Fatal("QUEUE_BACKEND=memory is served by the api process; the worker needs redis")
	}
	if cfg.StoreBackend == "memory" {
		logger.Fatal("STORE_BACKEND=memory cannot be shared with the worker")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis not reachable yet; consumer will keep retrying", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	var up report.Uploader
	cdn := cloudinary.New(cfg.CloudinaryCloud, cfg.CloudinaryKey, cfg.CloudinarySecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		up = cdn
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloud))
	} else {
		logger.Warn("cloudinary not configured; archive jobs will be acknowledged without upload")
	}

	reports := report.NewService(store.NewPostgres(db.Client), q, logger)
	logger.Info("worker started, waiting for messages")
	if err := reports.RunArchiver(ctx, q, up); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("archiver stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}

// Package main runs the recording-sync scheduler as a headless worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vidya-academy/backend/config"
	"github.com/vidya-academy/backend/internal/batches"
	"github.com/vidya-academy/backend/internal/recsync"
	"github.com/vidya-academy/backend/internal/zoom"
	"github.com/vidya-academy/backend/pkg/database"
	"github.com/vidya-academy/backend/pkg/lock"
	"github.com/vidya-academy/backend/pkg/redis"
	"github.com/vidya-academy/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	var locker *lock.Locker
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, scan leases disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		locker = lock.NewLocker(rdb.Client, logger)
	}

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		VideosBucket:    cfg.AWS.VideosBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	tempDir := cfg.Sync.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "zoom-recordings")
	}
	if err := os.MkdirAll(tempDir, 0750); err != nil {
		logger.Fatal("temp dir", zap.String("dir", tempDir), zap.Error(err))
	}

	batchRepo := batches.NewRepository(pool)
	zoomClient := zoom.NewClient(cfg.Zoom, logger)
	processor := recsync.NewProcessor(zoomClient, batchRepo, s3Client, recsync.PolicyFromConfig(cfg.Sync), tempDir, logger)
	scanner := recsync.NewScanner(batchRepo, processor, locker, logger)
	janitor := recsync.NewJanitor(tempDir, time.Duration(cfg.Sync.TempFileMaxAgeMin)*time.Minute, logger)
	scheduler := recsync.NewScheduler(scanner, janitor,
		time.Duration(cfg.Sync.ScanIntervalMin)*time.Minute,
		time.Duration(cfg.Sync.CleanupIntervalMin)*time.Minute,
		logger)

	scheduler.Start()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	scheduler.Stop()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// Package main runs the academy backend HTTP server with the recording-sync
// scheduler and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vidya-academy/backend/config"
	"github.com/vidya-academy/backend/internal/auth"
	"github.com/vidya-academy/backend/internal/batches"
	"github.com/vidya-academy/backend/internal/middleware"
	"github.com/vidya-academy/backend/internal/models"
	"github.com/vidya-academy/backend/internal/recsync"
	"github.com/vidya-academy/backend/internal/zoom"
	"github.com/vidya-academy/backend/pkg/database"
	"github.com/vidya-academy/backend/pkg/lock"
	"github.com/vidya-academy/backend/pkg/redis"
	"github.com/vidya-academy/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	batchRepo := batches.NewRepository(pool)
	batchHandler := batches.NewHandler(batchRepo, logger)

	zoomClient := zoom.NewClient(cfg.Zoom, logger)
	processor := recsync.NewProcessor(zoomClient, batchRepo, s3Client, recsync.PolicyFromConfig(cfg.Sync), tempDir, logger)
	scanner := recsync.NewScanner(batchRepo, processor, locker, logger)
	janitor := recsync.NewJanitor(tempDir, time.Duration(cfg.Sync.TempFileMaxAgeMin)*time.Minute, logger)
	scheduler := recsync.NewScheduler(scanner, janitor,
		time.Duration(cfg.Sync.ScanIntervalMin)*time.Minute,
		time.Duration(cfg.Sync.CleanupIntervalMin)*time.Minute,
		logger)
	syncHandler := recsync.NewHandler(scanner, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/batches", batchHandler.List)
		api.GET("/batches/:id", batchHandler.GetByID)
		api.GET("/sessions/:id/lessons", batchHandler.ListSessionLessons)

		api.POST("/admin/recordings/sync", middleware.RequireRole(models.RoleAdmin), syncHandler.TriggerSync)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	scheduler.Start()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// Package main runs the volunteer sign-up HTTP server with websocket push and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/servelist/backend/config"
	"github.com/servelist/backend/internal/auth"
	"github.com/servelist/backend/internal/realtime"
	"github.com/servelist/backend/internal/reservation"
	"github.com/servelist/backend/internal/server"
	"github.com/servelist/backend/pkg/database"
	"github.com/servelist/backend/pkg/redis"
)

const defaultJWTSecret = "change-me-in-production"

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var store reservation.Datastore
	switch cfg.Datastore {
	case config.DatastoreMemory:
		logger.Warn("using in-memory datastore, data is lost on restart")
		store = reservation.NewMemoryStore()
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolConfig{MaxConns: int32(cfg.Database.MaxConns)}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = reservation.NewPostgresStore(pool)
	}

	// Cross-instance fan-out (optional)
	var (
		publisher  realtime.EventPublisher
		subscriber realtime.EventSubscriber
	)
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		pubsub := realtime.NewRedisPubSub(rdb, logger)
		publisher, subscriber = pubsub, pubsub
	}
	hub := realtime.NewHub(logger, cfg.Broadcast.QueueSize, publisher, subscriber)
	go hub.Run(ctx)

	passwordHash := cfg.Admin.PasswordHash
	if passwordHash == "" && cfg.Admin.Password != "" {
		passwordHash, err = auth.HashPassword(cfg.Admin.Password)
		if err != nil {
			logger.Fatal("hash admin password", zap.Error(err))
		}
	}
	if passwordHash == "" {
		logger.Warn("no admin password configured, admin login is disabled")
	}
	if cfg.Admin.JWTSecret == defaultJWTSecret {
		logger.Warn("JWT_SECRET is the default value, set it in production")
	}

	manager := reservation.NewManager(store, hub, logger)
	router := server.NewRouter(server.Deps{
		Manager:      manager,
		Tokens:       auth.NewCapabilityService(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL),
		PasswordHash: passwordHash,
		Hub:          hub,
		CORSOrigins:  cfg.Server.CORSAllowedOrigins,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("datastore", cfg.Datastore),
			zap.Bool("redis_fanout", cfg.Redis.Enabled()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// Hijacked websocket connections are not closed by Shutdown; stopping the hub closes them.
	stop()
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

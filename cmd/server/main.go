package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sukru-can1/the-agent/common/id"
	"github.com/sukru-can1/the-agent/common/logger"
	"github.com/sukru-can1/the-agent/common/otel"
	"github.com/sukru-can1/the-agent/core/config"
	"github.com/sukru-can1/the-agent/core/db"
	"github.com/sukru-can1/the-agent/internal/http/handler"
	"github.com/sukru-can1/the-agent/internal/http/middleware"
	"github.com/sukru-can1/the-agent/internal/http/router"
	"github.com/sukru-can1/the-agent/internal/lease"
	"github.com/sukru-can1/the-agent/internal/queue"
	"github.com/sukru-can1/the-agent/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	var telemetry *otel.Telemetry
	if cfg.OTel.Enabled() {
		telemetry, err = otel.Setup(ctx, cfg.OTel)
		if err != nil {
			slog.ErrorContext(ctx, "failed to setup telemetry", "error", err)
			os.Exit(1)
		}
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "agent server starting", "env", cfg.Env)

	if err := id.Init(id.NodeServer); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	stores := store.New(database)
	priorityQueue := queue.NewPriorityQueue(redisClient, cfg.Queue.KeyPrefix)
	leaseManager := lease.NewManager(redisClient, cfg.Queue.KeyPrefix, cfg.Lease.TTL, cfg.Lease.DedupTTL)
	publisher := queue.NewPublisher(leaseManager, stores.Events, priorityQueue)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if cfg.OTel.Enabled() {
		engine.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	eventHandler := handler.NewEventHandler(publisher, stores.Events, stores.ActionLog)
	adminHandler := handler.NewAdminHandler(priorityQueue, stores.DeadLetters, publisher, stores.Events)
	router.SetupRoutes(engine, eventHandler, adminHandler, router.Config{
		AdminAPIKey: cfg.AdminAPIKey,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

const banner = `
 _   _                                    _
| |_| |__   ___    __ _  __ _  ___ _ __ | |_
| __| '_ \ / _ \  / _` + "`" + ` |/ _` + "`" + ` |/ _ \ '_ \| __|
| |_| | | |  __/ | (_| | (_| |  __/ | | | |_
 \__|_| |_|\___|  \__,_|\__, |\___|_| |_|\__|
                        |___/
`

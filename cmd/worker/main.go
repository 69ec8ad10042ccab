package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sukru-can1/the-agent/common/id"
	"github.com/sukru-can1/the-agent/common/llm"
	"github.com/sukru-can1/the-agent/common/logger"
	"github.com/sukru-can1/the-agent/common/otel"
	"github.com/sukru-can1/the-agent/core/config"
	"github.com/sukru-can1/the-agent/core/db"
	"github.com/sukru-can1/the-agent/internal/guardrail"
	"github.com/sukru-can1/the-agent/internal/lease"
	"github.com/sukru-can1/the-agent/internal/model"
	"github.com/sukru-can1/the-agent/internal/notify"
	"github.com/sukru-can1/the-agent/internal/pipeline"
	"github.com/sukru-can1/the-agent/internal/queue"
	"github.com/sukru-can1/the-agent/internal/reason"
	"github.com/sukru-can1/the-agent/internal/store"
	"github.com/sukru-can1/the-agent/internal/tool"
	"github.com/sukru-can1/the-agent/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
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

	slog.InfoContext(ctx, "agent worker starting",
		"env", cfg.Env,
		"workers", cfg.Queue.Workers)

	if err := id.Init(id.NodeWorker); err != nil {
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
	notifier := notify.FromURL(cfg.NotifyWebhook)

	classifierClient := buildLLMClient(ctx, "classifier", cfg.ClassifierLLM)
	reasonerClient := buildLLMClient(ctx, "reasoner", cfg.ReasonerLLM)

	sourceLimits := make(map[model.EventSource]int64, len(cfg.Guardrail.SourceHourlyLimits))
	for source, limit := range cfg.Guardrail.SourceHourlyLimits {
		sourceLimits[model.EventSource(source)] = limit
	}
	gate := guardrail.NewEngine(
		guardrail.DefaultRules(cfg.Guardrail.RestrictedContacts, cfg.Guardrail.MonetaryThreshold),
		guardrail.NewRateLimiter(guardrail.NewRedisCounter(redisClient), cfg.Queue.KeyPrefix,
			sourceLimits, cfg.Guardrail.GlobalHourlyLimit),
	)

	// Tools are registered by deployment-specific integrations; the
	// registry starts empty and can grow at runtime.
	registry := tool.NewRegistry()

	runner := pipeline.NewRunner(
		reason.NewClassifier(classifierClient),
		reason.NewPlanner(reasonerClient),
		gate,
		reason.NewEngine(reasonerClient, registry, cfg.ReasonerLLM.MaxTurns),
		stores.ActionLog,
		notifier,
	)

	history := worker.NewRedisErrorHistory(redisClient, cfg.Queue.KeyPrefix)
	retryManager := worker.NewRetryManager(priorityQueue, stores.Events, stores.DeadLetters,
		history, notifier, cfg.Queue.MaxRetries)

	pool := worker.NewPool(worker.Config{
		Workers:        cfg.Queue.Workers,
		IdleDelay:      cfg.Queue.IdleDelay,
		PausedDelay:    cfg.Queue.PausedDelay,
		DrainTimeout:   cfg.Queue.DrainTimeout,
		LeaseHeartbeat: leaseManager.TTL() / 3,
	}, priorityQueue, leaseManager, stores.Events, runner, retryManager)

	reclaimer := worker.NewReclaimer(priorityQueue, stores.Events, leaseManager, cfg.Lease.ReclaimEvery, leaseManager.TTL())

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 2)
	go func() {
		errCh <- pool.Run(runCtx)
	}()
	go func() {
		reclaimer.Run(runCtx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Queue.DrainTimeout+5*time.Second)
	defer shutdownCancel()

	for i := 0; i < 2; i++ {
		select {
		case <-shutdownCtx.Done():
			slog.WarnContext(ctx, "shutdown timeout exceeded")
			i = 2
		case err := <-errCh:
			if err != nil {
				slog.ErrorContext(ctx, "worker stopped with error", "error", err)
			}
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

func buildLLMClient(ctx context.Context, role string, cfg config.LLMConfig) llm.AgentClient {
	if !cfg.Enabled() {
		slog.WarnContext(ctx, "no LLM configured", "role", role)
		return nil
	}
	client, err := llm.NewAgentClient(llm.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create LLM client", "role", role, "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "LLM client ready", "role", role, "model", client.Model())
	return client
}

const banner = `
 _   _                                    _
| |_| |__   ___    __ _  __ _  ___ _ __ | |_
| __| '_ \ / _ \  / _` + "`" + ` |/ _` + "`" + ` |/ _ \ '_ \| __|
| |_| | | |  __/ | (_| | (_| |  __/ | | | |_
 \__|_| |_|\___|  \__,_|\__, |\___|_| |_|\__|
                        |___/   worker
`

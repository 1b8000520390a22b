package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/ai"
	"github.com/recallstack/memoryd/internal/circuitbreaker"
	"github.com/recallstack/memoryd/internal/config"
	"github.com/recallstack/memoryd/internal/curator"
	"github.com/recallstack/memoryd/internal/httpapi"
	"github.com/recallstack/memoryd/internal/ingest"
	"github.com/recallstack/memoryd/internal/memstore"
	"github.com/recallstack/memoryd/internal/queue"
	"github.com/recallstack/memoryd/internal/search"
	"github.com/recallstack/memoryd/internal/signals"
	"github.com/recallstack/memoryd/internal/tracing"
	"github.com/recallstack/memoryd/internal/vectordb"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	circuitbreaker.StartMetricsCollection()

	// Tracing (no-op when disabled)
	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	// Relational store
	store, err := memstore.Connect(memstore.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConnections:  cfg.Postgres.MaxConnections,
		ConnMaxLifetime: cfg.Postgres.MaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure schema", zap.Error(err))
	}

	// Redis queue
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rdb := circuitbreaker.NewRedisWrapper(redisClient, logger)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}

	// Vector index
	vdb := vectordb.Initialize(vectordb.Config{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		Dimensions: cfg.Qdrant.Dimensions,
		Timeout:    cfg.Qdrant.Timeout,
	}, logger)
	if err := vdb.EnsureCollection(ctx); err != nil {
		logger.Fatal("Failed to ensure vector collection", zap.Error(err))
	}

	// AI gateway
	aiSvc, err := ai.Initialize(ai.Config{
		EdgeBaseURL:   cfg.AI.EdgeBaseURL,
		GatewayPrefix: cfg.AI.GatewayPrefix,
		OpenAIAPIKey:  cfg.AI.OpenAIAPIKey,
		GeminiAPIKey:  cfg.AI.GeminiAPIKey,
		ModelsPath:    cfg.AI.ModelsPath,
		Timeout:       cfg.AI.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AI gateway", zap.Error(err))
	}

	sig := signals.Get()

	// Ingestion consumer
	worker := ingest.NewWorker(aiSvc, vdb, store, sig, logger)
	consumer := queue.NewConsumer(rdb, queue.ConsumerConfig{
		Stream:          cfg.Queue.Stream,
		Group:           cfg.Queue.Group,
		Consumer:        cfg.Queue.Consumer,
		BlockTimeout:    cfg.Queue.BlockTimeout,
		ReclaimInterval: cfg.Queue.ReclaimInterval,
		ReclaimMinIdle:  cfg.Queue.ReclaimMinIdle,
	}, worker.Handle, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Queue consumer stopped", zap.Error(err))
		}
	}()

	// Retrieval engine
	engine := search.NewEngine(aiSvc, vdb, store, logger)

	// Curator
	cur := curator.New(curator.Config{
		SimilarityThreshold: cfg.Curator.SimilarityThreshold,
		BatchSize:           cfg.Curator.BatchSize,
		MaxConsolidations:   cfg.Curator.MaxConsolidations,
		SimilarTopK:         cfg.Curator.SimilarTopK,
		RunDeadline:         cfg.Curator.RunDeadline,
	}, aiSvc, vdb, store, sig, logger)
	scheduler, err := curator.NewScheduler(cfg.Curator.Schedule, cur, logger)
	if err != nil {
		logger.Fatal("Failed to create curator scheduler", zap.Error(err))
	}
	scheduler.Start()

	// Config hot-reload: only the similarity threshold is safe to swap live
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/memoryd.yaml"
	}
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		watcher, werr := config.NewWatcher(cfgPath, logger)
		if werr != nil {
			logger.Warn("Config watcher unavailable", zap.Error(werr))
		} else {
			watcher.OnReload(func(next *config.Config) {
				cur.SetSimilarityThreshold(next.Curator.SimilarityThreshold)
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// Public API server
	producer := queue.NewProducer(rdb, cfg.Queue.Stream, logger)
	checks := map[string]httpapi.ReadyChecker{
		"postgres": store.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	apiMux := http.NewServeMux()
	httpapi.NewMemoryHandler(producer, logger).RegisterRoutes(apiMux)
	httpapi.NewSearchHandler(engine, logger).RegisterRoutes(apiMux)
	httpapi.NewAIHandler(aiSvc, logger).RegisterRoutes(apiMux)
	httpapi.NewLogsHandler(sig, logger).RegisterRoutes(apiMux)
	httpapi.NewAdminHandler(scheduler, cfg.AuthToken, checks, logger).RegisterRoutes(apiMux)

	apiServer := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:     apiMux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.HTTPPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Admin server: metrics and health probes
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	httpapi.NewAdminHandler(scheduler, cfg.AuthToken, checks, logger).RegisterRoutes(adminMux)

	adminServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin server listening", zap.Int("port", cfg.AdminPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	sig.Success(fmt.Sprintf("memoryd up on :%d", cfg.HTTPPort))

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down memoryd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown", zap.Error(err))
	}

	cancel() // stops the queue consumer
	scheduler.Stop()
}

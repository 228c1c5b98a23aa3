package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackmichael/nostr-recommender/internal/classifier"
	"github.com/blackmichael/nostr-recommender/internal/config"
	"github.com/blackmichael/nostr-recommender/internal/domain"
	"github.com/blackmichael/nostr-recommender/internal/httpserver"
	"github.com/blackmichael/nostr-recommender/internal/meili"
	"github.com/blackmichael/nostr-recommender/internal/rediscache"
	"github.com/blackmichael/nostr-recommender/internal/relay"
	"github.com/blackmichael/nostr-recommender/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := meili.New(meili.Config{
		Host:    cfg.Meili.Host,
		APIKey:  cfg.Meili.APIKey,
		Timeout: cfg.Meili.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create index engine: %w", err)
	}
	defer engine.Close()

	index := domain.NewTopicIndexManager(engine, logger)
	if err := index.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap index engine: %w", err)
	}
	logger.Info("index engine ready", "host", cfg.Meili.Host)

	cache, err := rediscache.New(ctx, rediscache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	defer cache.Close()
	logger.Info("connected to cache", "addr", cfg.Redis.Addr)

	zeroShot := classifier.NewShared(classifier.Config{
		URL:              cfg.Classifier.URL,
		Token:            cfg.Classifier.Token,
		Timeout:          cfg.Classifier.Timeout,
		FailureThreshold: cfg.Classifier.FailureThreshold,
		OpenTimeout:      cfg.Classifier.OpenTimeout,
	}, logger)
	classifications := domain.NewClassificationCache(zeroShot, cache, domain.TopicLabels, logger)

	pool := relay.NewPool(cfg.Relay.URLs, relay.Config{
		QueryTimeout:      cfg.Relay.QueryTimeout,
		RequestsPerSecond: cfg.Relay.RequestsPerSecond,
	}, logger)

	profiles := domain.NewProfileBuilder(pool, classifications, engine, domain.ProfileConfig{
		Lookback:       cfg.Profile.Lookback,
		MinEvents:      cfg.Profile.MinEvents,
		CacheTTL:       cfg.Profile.CacheTTL,
		Concurrency:    cfg.Profile.Concurrency,
		HistoryLimit:   cfg.Profile.HistoryLimit,
		ReferenceBatch: cfg.Profile.ReferenceBatch,
	}, logger)

	loop := domain.NewIngestionLoop(pool, classifications, index, profiles, nil, domain.IngestConfig{
		BatchLimit:       cfg.Ingest.BatchLimit,
		Kinds:            cfg.Ingest.Kinds,
		Interval:         cfg.Ingest.Interval,
		SampleChunkSize:  cfg.Ingest.SampleChunkSize,
		PostCacheTTL:     cfg.Ingest.PostCacheTTL,
		IterationTimeout: cfg.Ingest.IterationTimeout,
	}, logger)

	planner := domain.NewRecommendationPlanner(engine, domain.PlannerConfig{
		ScaleFactor: float64(cfg.Recommend.ScaleFactor),
		Timeout:     cfg.Recommend.Timeout,
	}, logger)
	server := httpserver.NewServer(cfg, planner, logger)

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Ingest.IterationTimeout + cfg.Server.WriteTimeout
	tree := supervisor.NewTree("nostr-recommender", logger, treeCfg)
	tree.AddDataService(supervisor.NewLoopService("ingestion", loop))
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.WriteTimeout))

	logger.Info("server started", "port", cfg.Server.Port, "relays", len(pool.URLs()))

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor exited: %w", err)
	}
	logger.Info("shut down")
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

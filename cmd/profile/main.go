package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/blackmichael/nostr-recommender/internal/classifier"
	"github.com/blackmichael/nostr-recommender/internal/config"
	"github.com/blackmichael/nostr-recommender/internal/domain"
	"github.com/blackmichael/nostr-recommender/internal/meili"
	"github.com/blackmichael/nostr-recommender/internal/rediscache"
	"github.com/blackmichael/nostr-recommender/internal/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		identity string
		dryRun   bool
		verbose  bool
	)

	flag.StringVar(&identity, "identity", os.Getenv("NOSTR_IDENTITY"), "Author public key (hex or npub)")
	flag.BoolVar(&dryRun, "dry-run", false, "Print the computed weights instead of storing them")
	flag.BoolVar(&verbose, "v", false, "Log progress to stderr")
	flag.Parse()

	if identity == "" {
		return fmt.Errorf("--identity is required (or set NOSTR_IDENTITY)")
	}
	pubkey, err := domain.ParseIdentity(identity)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var out io.Writer = io.Discard
	if verbose {
		out = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(out, nil))

	ctx := context.Background()

	engine, err := meili.New(meili.Config{
		Host:    cfg.Meili.Host,
		APIKey:  cfg.Meili.APIKey,
		Timeout: cfg.Meili.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create index engine: %w", err)
	}
	defer engine.Close()

	cache, err := rediscache.New(ctx, rediscache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	defer cache.Close()

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

	builder := domain.NewProfileBuilder(pool, classifications, engine, domain.ProfileConfig{
		Lookback:       cfg.Profile.Lookback,
		MinEvents:      cfg.Profile.MinEvents,
		CacheTTL:       cfg.Profile.CacheTTL,
		Concurrency:    cfg.Profile.Concurrency,
		HistoryLimit:   cfg.Profile.HistoryLimit,
		ReferenceBatch: cfg.Profile.ReferenceBatch,
	}, logger)

	fmt.Printf("Building profile for %s...\n", pubkey)

	if dryRun {
		profile, err := builder.Compute(ctx, pubkey)
		if err != nil {
			return err
		}
		if profile == nil {
			fmt.Printf("Not enough activity (fewer than %d events), no profile\n", cfg.Profile.MinEvents)
			return nil
		}
		printWeights(profile.Weight)
		return nil
	}

	index := domain.NewTopicIndexManager(engine, logger)
	if err := index.EnsureProfileIndex(ctx); err != nil {
		return fmt.Errorf("ensure profile collection: %w", err)
	}

	outcome, err := builder.Build(ctx, pubkey)
	if err != nil {
		return err
	}
	fmt.Printf("Profile %s\n", outcome)
	return nil
}

func printWeights(weights map[string]float64) {
	labels := make([]string, 0, len(weights))
	for label := range weights {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return weights[labels[i]] > weights[labels[j]]
	})
	for _, label := range labels {
		fmt.Printf("%-16s %.4f\n", label, weights[label])
	}
}

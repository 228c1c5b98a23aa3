package domain

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/blackmichael/nostr-recommender/internal/metrics"
)

// IngestConfig holds the ingestion loop parameters.
type IngestConfig struct {
	// BatchLimit bounds the number of events fetched per iteration.
	BatchLimit int

	// Kinds are the event kinds fetched per iteration.
	Kinds []int

	// Interval is the pause between iterations.
	Interval time.Duration

	// SampleChunkSize is the number of authors per sampling chunk.
	SampleChunkSize int

	// PostCacheTTL is the classification cache expiry for batch posts.
	PostCacheTTL time.Duration

	// IterationTimeout bounds one iteration, including after shutdown was
	// requested.
	IterationTimeout time.Duration
}

// DefaultIngestConfig returns the defaults used by the indexing worker.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		BatchLimit:       200,
		Kinds:            []int{nostr.KindTextNote},
		Interval:         5 * time.Second,
		SampleChunkSize:  45,
		PostCacheTTL:     12 * time.Minute,
		IterationTimeout: 10 * time.Minute,
	}
}

// IterationStats summarises one ingestion iteration.
type IterationStats struct {
	Fetched  int
	Posts    int
	Indexed  int
	Sampled  int
	Profiles int
}

// IngestionLoop repeatedly pulls a batch of events, indexes its top-level
// posts by topic and refreshes the profiles of a sample of its authors.
type IngestionLoop struct {
	source     EventSource
	classifier *ClassificationCache
	index      *TopicIndexManager
	profiles   *ProfileBuilder
	rng        Rand
	cfg        IngestConfig
	logger     *slog.Logger
}

// NewIngestionLoop creates an IngestionLoop. A nil rng selects a randomly
// seeded PCG source.
func NewIngestionLoop(
	source EventSource,
	classifier *ClassificationCache,
	index *TopicIndexManager,
	profiles *ProfileBuilder,
	rng Rand,
	cfg IngestConfig,
	logger *slog.Logger,
) *IngestionLoop {
	def := DefaultIngestConfig()
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = def.BatchLimit
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = def.Kinds
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.SampleChunkSize <= 0 {
		cfg.SampleChunkSize = def.SampleChunkSize
	}
	if cfg.PostCacheTTL <= 0 {
		cfg.PostCacheTTL = def.PostCacheTTL
	}
	if cfg.IterationTimeout <= 0 {
		cfg.IterationTimeout = def.IterationTimeout
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &IngestionLoop{
		source:     source,
		classifier: classifier,
		index:      index,
		profiles:   profiles,
		rng:        rng,
		cfg:        cfg,
		logger:     logger.With("component", "ingestion_loop"),
	}
}

// Run executes iterations until ctx is cancelled. Cancellation is observed
// between iterations only: an in-flight iteration runs to completion, bounded
// by IterationTimeout.
func (l *IngestionLoop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		iterCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.IterationTimeout)
		start := time.Now()
		stats := l.RunOnce(iterCtx)
		cancel()
		metrics.IterationDuration.Observe(time.Since(start).Seconds())

		l.logger.Info("ingestion iteration complete",
			"fetched", stats.Fetched,
			"posts", stats.Posts,
			"indexed", stats.Indexed,
			"sampled", stats.Sampled,
			"profiles", stats.Profiles,
			"duration", time.Since(start),
		)

		if l.cfg.Interval == 0 {
			continue
		}
		timer := time.NewTimer(l.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce performs a single iteration. Failures are logged and abandon only
// the event or author they concern.
func (l *IngestionLoop) RunOnce(ctx context.Context) IterationStats {
	var stats IterationStats

	evs, err := l.source.List(ctx, nostr.Filter{
		Kinds: l.cfg.Kinds,
		Limit: l.cfg.BatchLimit,
	})
	if err != nil {
		l.logger.Error("failed to fetch batch", "error", err)
		return stats
	}
	stats.Fetched = len(evs)
	metrics.EventsFetched.Add(float64(len(evs)))

	posts := SelectPosts(evs)
	stats.Posts = len(posts)

	for _, ev := range posts {
		if l.IndexPost(ctx, ev) {
			stats.Indexed++
		}
	}

	authors := SampleAuthors(UniqueAuthors(posts), l.cfg.SampleChunkSize, l.rng)
	stats.Sampled = len(authors)
	for _, pk := range authors {
		outcome, err := l.profiles.Build(ctx, pk)
		if err != nil {
			l.logger.Error("failed to build profile", "author", pk, "error", err)
			continue
		}
		if outcome == ProfileWritten {
			stats.Profiles++
		}
	}

	return stats
}

// SelectPosts returns the de-duplicated, indexable, top-level posts of evs.
func SelectPosts(evs []*nostr.Event) []*nostr.Event {
	var posts []*nostr.Event
	for _, ev := range DedupeEvents(evs) {
		switch {
		case ev.Kind != nostr.KindTextNote:
			continue
		case !IsIndexable(ev):
			metrics.EventsDropped.WithLabelValues("unindexable").Inc()
			continue
		case !IsTopLevelPost(ev):
			metrics.EventsDropped.WithLabelValues("not_top_level").Inc()
			continue
		}
		posts = append(posts, ev)
	}
	return posts
}

// IndexPost classifies ev and writes it to its topic collection. It reports
// whether the event was indexed.
func (l *IngestionLoop) IndexPost(ctx context.Context, ev *nostr.Event) bool {
	outcome, err := l.classifier.Classify(ctx, ev, l.cfg.PostCacheTTL)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("classify_error").Inc()
		l.logger.Warn("failed to classify event", "event_id", ev.ID, "author", ev.PubKey, "error", err)
		return false
	}
	if outcome.Label == OthersLabel {
		metrics.EventsDropped.WithLabelValues("others").Inc()
		return false
	}

	if err := l.index.AddDocument(ctx, outcome.Label, ev); err != nil {
		metrics.EventsDropped.WithLabelValues("index_error").Inc()
		l.logger.Error("failed to index event", "event_id", ev.ID, "label", outcome.Label, "error", err)
		return false
	}

	metrics.EventsIndexed.WithLabelValues(outcome.Label).Inc()
	return true
}

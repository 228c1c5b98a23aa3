package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/nostr-recommender/internal/metrics"
)

// UserProfile is the topic weight vector of one identity. Weights over the
// present labels sum to 1; absent labels weigh 0.
type UserProfile struct {
	PubKey string             `json:"pubkey"`
	Weight map[string]float64 `json:"weight"`
}

// ProfileOutcome tells whether a profile build wrote a profile.
type ProfileOutcome int

const (
	// ProfileSkipped means the author had too little activity and no
	// profile was written.
	ProfileSkipped ProfileOutcome = iota

	// ProfileWritten means the profile was upserted.
	ProfileWritten
)

func (o ProfileOutcome) String() string {
	switch o {
	case ProfileWritten:
		return "written"
	case ProfileSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ProfileConfig holds the profile building parameters.
type ProfileConfig struct {
	// Lookback is how far back the author's activity is fetched.
	Lookback time.Duration

	// MinEvents is the smallest evaluation universe that yields a profile.
	MinEvents int

	// CacheTTL is the classification cache expiry used for profile work.
	CacheTTL time.Duration

	// Concurrency bounds the number of in-flight classifications.
	Concurrency int

	// HistoryLimit bounds the number of events fetched per relay query.
	HistoryLimit int

	// ReferenceBatch is the number of referenced ids fetched per query.
	ReferenceBatch int
}

// DefaultProfileConfig returns the defaults used by the indexing worker.
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		Lookback:       90 * 24 * time.Hour,
		MinEvents:      40,
		CacheTTL:       24 * time.Hour,
		Concurrency:    8,
		HistoryLimit:   500,
		ReferenceBatch: 100,
	}
}

// ProfileBuilder computes and stores topic weight vectors for authors from
// their recent activity.
type ProfileBuilder struct {
	source     EventSource
	classifier *ClassificationCache
	engine     IndexEngine
	cfg        ProfileConfig
	now        func() time.Time
	logger     *slog.Logger
}

// NewProfileBuilder creates a ProfileBuilder. Zero fields in cfg take their
// value from DefaultProfileConfig.
func NewProfileBuilder(source EventSource, classifier *ClassificationCache, engine IndexEngine, cfg ProfileConfig, logger *slog.Logger) *ProfileBuilder {
	def := DefaultProfileConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MinEvents <= 0 {
		cfg.MinEvents = def.MinEvents
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.ReferenceBatch <= 0 {
		cfg.ReferenceBatch = def.ReferenceBatch
	}

	return &ProfileBuilder{
		source:     source,
		classifier: classifier,
		engine:     engine,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With("component", "profile_builder"),
	}
}

// Build gathers the author's evaluation universe, classifies it and upserts
// the resulting weight vector. Authors whose universe is smaller than
// MinEvents are skipped without writing anything.
func (b *ProfileBuilder) Build(ctx context.Context, pubkey string) (ProfileOutcome, error) {
	profile, err := b.Compute(ctx, pubkey)
	if err != nil {
		metrics.Profiles.WithLabelValues("error").Inc()
		return ProfileSkipped, err
	}
	if profile == nil {
		metrics.Profiles.WithLabelValues(ProfileSkipped.String()).Inc()
		return ProfileSkipped, nil
	}

	if err := b.engine.Upsert(ctx, ProfileCollection, profile); err != nil {
		metrics.Profiles.WithLabelValues("error").Inc()
		return ProfileSkipped, fmt.Errorf("upsert profile %s: %w", pubkey, err)
	}

	metrics.Profiles.WithLabelValues(ProfileWritten.String()).Inc()
	b.logger.Info("profile written", "author", pubkey, "labels", len(profile.Weight))
	return ProfileWritten, nil
}

// Compute returns the author's profile without storing it. It returns a nil
// profile when the universe is below MinEvents.
func (b *ProfileBuilder) Compute(ctx context.Context, pubkey string) (*UserProfile, error) {
	universe, err := b.Universe(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if len(universe) < b.cfg.MinEvents {
		b.logger.Debug("too few events for a profile",
			"author", pubkey,
			"events", len(universe),
			"min_events", b.cfg.MinEvents,
		)
		return nil, nil
	}

	outcomes, err := b.classifyAll(ctx, universe)
	if err != nil {
		return nil, fmt.Errorf("classify universe of %s: %w", pubkey, err)
	}

	return &UserProfile{
		PubKey: pubkey,
		Weight: NormalizeWeights(LabelDistribution(outcomes)),
	}, nil
}

// Universe returns the de-duplicated set of events describing the author's
// interests: unwrapped reposts, the targets of reactions, replies and empty
// reposts, and the author's own top-level posts.
func (b *ProfileBuilder) Universe(ctx context.Context, pubkey string) ([]*nostr.Event, error) {
	since := nostr.Timestamp(b.now().Add(-b.cfg.Lookback).Unix())
	history, err := b.source.List(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindTextNote, nostr.KindRepost, nostr.KindReaction},
		Authors: []string{pubkey},
		Since:   &since,
		Limit:   b.cfg.HistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch history of %s: %w", pubkey, err)
	}

	var reposts, own []*nostr.Event
	for _, ev := range history {
		switch ev.Kind {
		case nostr.KindRepost:
			if inner := UnwrapRepost(ev); inner != nil {
				reposts = append(reposts, inner)
			}
		case nostr.KindTextNote:
			if IsTopLevelPost(ev) {
				own = append(own, ev)
			}
		}
	}

	var refIDs []string
	refIDs = append(refIDs, ReferencedIDs(history, nostr.KindReaction)...)
	refIDs = append(refIDs, ReferencedIDs(history, nostr.KindTextNote)...)
	refIDs = append(refIDs, ReferencedIDs(history, nostr.KindRepost)...)

	referenced, err := b.fetchReferenced(ctx, uniqueStrings(refIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch referenced events of %s: %w", pubkey, err)
	}

	universe := make([]*nostr.Event, 0, len(reposts)+len(referenced)+len(own))
	universe = append(universe, reposts...)
	universe = append(universe, referenced...)
	universe = append(universe, own...)
	return DedupeEvents(universe), nil
}

func (b *ProfileBuilder) fetchReferenced(ctx context.Context, ids []string) ([]*nostr.Event, error) {
	var out []*nostr.Event
	for start := 0; start < len(ids); start += b.cfg.ReferenceBatch {
		batch := ids[start:min(start+b.cfg.ReferenceBatch, len(ids))]
		evs, err := b.source.List(ctx, nostr.Filter{
			Kinds: []int{nostr.KindTextNote},
			IDs:   batch,
			Limit: len(batch),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

// classifyAll classifies every event with bounded concurrency. Each task
// writes only its own slot.
func (b *ProfileBuilder) classifyAll(ctx context.Context, evs []*nostr.Event) ([]*ClassifyOutcome, error) {
	outcomes := make([]*ClassifyOutcome, len(evs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, ev := range evs {
		g.Go(func() error {
			outcome, err := b.classifier.Classify(gctx, ev, b.cfg.CacheTTL)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// LabelDistribution counts outcomes per label, "others" included.
func LabelDistribution(outcomes []*ClassifyOutcome) map[string]int {
	counts := make(map[string]int)
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		counts[o.Label]++
	}
	return counts
}

// NormalizeWeights divides every count by the total so the weights sum to 1.
// An empty or all-zero distribution yields an empty vector.
func NormalizeWeights(counts map[string]int) map[string]float64 {
	total := 0
	for _, c := range counts {
		if c > 0 {
			total += c
		}
	}

	weights := make(map[string]float64, len(counts))
	if total == 0 {
		return weights
	}
	for label, c := range counts {
		if c > 0 {
			weights[label] = float64(c) / float64(total)
		}
	}
	return weights
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

package domain

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"

	"github.com/blackmichael/nostr-recommender/internal/metrics"
)

// DefaultWeights returns the uniform vector over the topic labels used for
// identities without a profile.
func DefaultWeights() map[string]float64 {
	w := 1 / float64(len(TopicLabels))
	weights := make(map[string]float64, len(TopicLabels))
	for _, label := range TopicLabels {
		weights[label] = w
	}
	return weights
}

// BuildQueryPlan returns one sub-query per topic label with a positive
// weight, asking for floor(weight*scale) events sorted newest first. Labels
// whose share rounds down to zero, and "others", get no sub-query. Queries
// follow the TopicLabels order.
func BuildQueryPlan(weights map[string]float64, offset int, scale float64) []SearchQuery {
	var plan []SearchQuery
	for _, label := range TopicLabels {
		w, ok := weights[label]
		if !ok || w <= 0 {
			continue
		}
		limit := int(math.Floor(w * scale))
		if limit <= 0 {
			continue
		}
		plan = append(plan, SearchQuery{
			Collection: label,
			Sort:       []string{"created_at:desc"},
			Limit:      limit,
			Offset:     offset,
		})
	}
	return plan
}

// MergeHits keeps the top-level posts among hits, sorts them newest first
// and truncates to limit.
func MergeHits(hits []*nostr.Event, limit int) []*nostr.Event {
	merged := make([]*nostr.Event, 0, len(hits))
	for _, ev := range hits {
		if IsTopLevelPost(ev) {
			merged = append(merged, ev)
		}
	}
	slices.SortStableFunc(merged, func(a, b *nostr.Event) int {
		switch {
		case a.CreatedAt > b.CreatedAt:
			return -1
		case a.CreatedAt < b.CreatedAt:
			return 1
		default:
			return 0
		}
	})
	if limit >= 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// PlannerConfig holds recommendation parameters.
type PlannerConfig struct {
	// ScaleFactor converts a weight into a per-label result count.
	ScaleFactor float64

	// Timeout bounds the fan-out. Sub-queries still running when it expires
	// contribute nothing.
	Timeout time.Duration
}

// RecommendationPlanner assembles personalised cross-topic pages from the
// profile and topic collections.
type RecommendationPlanner struct {
	engine IndexEngine
	cfg    PlannerConfig
	logger *slog.Logger
}

// NewRecommendationPlanner creates a RecommendationPlanner.
func NewRecommendationPlanner(engine IndexEngine, cfg PlannerConfig, logger *slog.Logger) *RecommendationPlanner {
	if cfg.ScaleFactor <= 0 {
		cfg.ScaleFactor = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RecommendationPlanner{
		engine: engine,
		cfg:    cfg,
		logger: logger.With("component", "recommendation_planner"),
	}
}

// Recommend returns a page of events for pubkey, falling back to
// DefaultWeights when no profile is stored.
func (p *RecommendationPlanner) Recommend(ctx context.Context, pubkey string, offset, limit int) ([]*nostr.Event, error) {
	profile, err := p.LoadProfile(ctx, pubkey)
	if err != nil {
		return nil, err
	}

	weights := DefaultWeights()
	if profile != nil && len(profile.Weight) > 0 {
		weights = profile.Weight
	}
	return p.Plan(ctx, weights, offset, limit, p.cfg.ScaleFactor), nil
}

// LoadProfile returns the stored profile of pubkey, or nil if none exists.
func (p *RecommendationPlanner) LoadProfile(ctx context.Context, pubkey string) (*UserProfile, error) {
	hits, err := p.engine.Search(ctx, SearchQuery{
		Collection: ProfileCollection,
		Filter:     fmt.Sprintf("pubkey = %q", pubkey),
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("search profile %s: %w", pubkey, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	var profile UserProfile
	if err := json.Unmarshal(hits[0], &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", pubkey, err)
	}
	return &profile, nil
}

// subResult is the outcome of one sub-query.
type subResult struct {
	label string
	hits  []*nostr.Event
	err   error
}

// Plan fans the weighted sub-queries out concurrently and merges their hits.
// A failed or timed out sub-query contributes no hits.
func (p *RecommendationPlanner) Plan(ctx context.Context, weights map[string]float64, offset, limit int, scale float64) []*nostr.Event {
	plan := BuildQueryPlan(weights, offset, scale)
	if len(plan) == 0 {
		return []*nostr.Event{}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	results := make(chan subResult, len(plan))
	for _, q := range plan {
		go func() {
			hits, err := p.search(ctx, q)
			results <- subResult{label: q.Collection, hits: hits, err: err}
		}()
	}

	var hits []*nostr.Event
	for range plan {
		select {
		case r := <-results:
			if r.err != nil {
				metrics.RecommendSubqueryFailures.WithLabelValues(r.label).Inc()
				p.logger.Warn("sub-query failed", "label", r.label, "error", r.err)
				continue
			}
			hits = append(hits, r.hits...)
		case <-ctx.Done():
			p.logger.Warn("recommendation fan-out timed out", "error", ctx.Err())
			return MergeHits(hits, limit)
		}
	}
	return MergeHits(hits, limit)
}

func (p *RecommendationPlanner) search(ctx context.Context, q SearchQuery) ([]*nostr.Event, error) {
	raw, err := p.engine.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	evs := make([]*nostr.Event, 0, len(raw))
	for _, doc := range raw {
		var ev nostr.Event
		if err := json.Unmarshal(doc, &ev); err != nil {
			p.logger.Debug("skipping undecodable hit", "label", q.Collection, "error", err)
			continue
		}
		evs = append(evs, &ev)
	}
	return evs, nil
}

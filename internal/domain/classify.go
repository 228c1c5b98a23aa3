package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/singleflight"

	"github.com/blackmichael/nostr-recommender/internal/metrics"
)

// ErrMalformedClassification is returned when the classifier response lacks
// labels or scores, or the two are of different lengths.
var ErrMalformedClassification = errors.New("malformed classification")

// ClassifyOutcome is the cached topic decision for one event.
type ClassifyOutcome struct {
	EventID  string `json:"-"`
	Sequence string `json:"sequence"`
	Label    string `json:"label"`
}

// ClassificationCache classifies events through the classifier, caching the
// outcome per event id. Concurrent misses for the same id share a single
// classifier call.
type ClassificationCache struct {
	classifier Classifier
	cache      Cache
	labels     []string
	threshold  float64
	group      singleflight.Group
	logger     *slog.Logger
}

// NewClassificationCache creates a ClassificationCache over the given labels.
// A nil or empty labels slice selects TopicLabels.
func NewClassificationCache(classifier Classifier, cache Cache, labels []string, logger *slog.Logger) *ClassificationCache {
	if len(labels) == 0 {
		labels = TopicLabels
	}
	return &ClassificationCache{
		classifier: classifier,
		cache:      cache,
		labels:     labels,
		threshold:  ConfidenceThreshold(len(labels)),
		logger:     logger.With("component", "classification_cache"),
	}
}

// Classify returns the topic outcome for ev. A cached outcome is returned
// unchanged. On a miss the classifier is called and the outcome is written
// back with the given ttl.
func (c *ClassificationCache) Classify(ctx context.Context, ev *nostr.Event, ttl time.Duration) (*ClassifyOutcome, error) {
	if outcome, ok := c.lookup(ctx, ev.ID); ok {
		metrics.ClassificationCacheHits.Inc()
		return outcome, nil
	}
	metrics.ClassificationCacheMisses.Inc()

	v, err, _ := c.group.Do(ev.ID, func() (any, error) {
		return c.compute(ctx, ev, ttl)
	})
	if err != nil {
		return nil, err
	}
	outcome := *v.(*ClassifyOutcome)
	return &outcome, nil
}

func (c *ClassificationCache) lookup(ctx context.Context, id string) (*ClassifyOutcome, bool) {
	raw, ok, err := c.cache.Get(ctx, id)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss", "event_id", id, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var outcome ClassifyOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil || outcome.Label == "" {
		c.logger.Warn("discarding unreadable cache entry", "event_id", id, "error", err)
		return nil, false
	}
	outcome.EventID = id
	return &outcome, true
}

func (c *ClassificationCache) compute(ctx context.Context, ev *nostr.Event, ttl time.Duration) (*ClassifyOutcome, error) {
	text := StripURLs(ev).Content

	outcome := &ClassifyOutcome{EventID: ev.ID, Label: OthersLabel}
	if strings.TrimSpace(text) != "" {
		result, err := c.classifier.Classify(ctx, text, c.labels)
		if err != nil {
			return nil, fmt.Errorf("classify event %s: %w", ev.ID, err)
		}
		if len(result.Labels) == 0 || len(result.Labels) != len(result.Scores) {
			return nil, fmt.Errorf("classify event %s: %w", ev.ID, ErrMalformedClassification)
		}

		outcome.Sequence = result.Sequence
		outcome.Label = c.decide(result)
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}
	if err := c.cache.Set(ctx, ev.ID, string(payload), ttl); err != nil {
		c.logger.Error("cache write failed", "event_id", ev.ID, "label", outcome.Label, "error", err)
	}
	return outcome, nil
}

// decide keeps the top label only when its score is strictly above the
// confidence threshold.
func (c *ClassificationCache) decide(result *Classification) string {
	if result.Scores[0] <= c.threshold {
		return OthersLabel
	}
	return result.Labels[0]
}

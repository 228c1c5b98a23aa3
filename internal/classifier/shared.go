package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackmichael/nostr-recommender/internal/domain"
)

// Shared is a process-wide classifier initialised on first use. Concurrent
// first calls share one initialisation, including its warm-up request.
type Shared struct {
	init   func() (domain.Classifier, error)
	once   sync.Once
	client domain.Classifier
	err    error
}

var _ domain.Classifier = (*Shared)(nil)

// NewShared returns a Shared classifier that builds a Client from cfg and
// warms it up with a probe request on first use.
func NewShared(cfg Config, logger *slog.Logger) *Shared {
	return NewSharedFunc(func() (domain.Classifier, error) {
		client, err := NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*client.cfg.Timeout)
		defer cancel()
		start := time.Now()
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("warm up classifier: %w", err)
		}
		logger.Info("classifier ready", "url", cfg.URL, "warmup", time.Since(start))
		return client, nil
	})
}

// NewSharedFunc returns a Shared classifier built by init on first use.
func NewSharedFunc(init func() (domain.Classifier, error)) *Shared {
	return &Shared{init: init}
}

// Get returns the underlying classifier, initialising it if needed. A failed
// initialisation is not retried.
func (s *Shared) Get() (domain.Classifier, error) {
	s.once.Do(func() {
		s.client, s.err = s.init()
	})
	return s.client, s.err
}

// Classify implements domain.Classifier.
func (s *Shared) Classify(ctx context.Context, text string, labels []string) (*domain.Classification, error) {
	client, err := s.Get()
	if err != nil {
		return nil, fmt.Errorf("init classifier: %w", err)
	}
	return client.Classify(ctx, text, labels)
}

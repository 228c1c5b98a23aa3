package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/nostr-recommender/internal/domain"
	"github.com/blackmichael/nostr-recommender/internal/testutil"
)

func TestClassify_IdempotentPerEvent(t *testing.T) {
	clf := keywordClassifier(map[string]string{"bitcoin": "bitcoin"})
	cache := testutil.NewCache()
	cc := domain.NewClassificationCache(clf, cache, nil, discardLogger())
	ev := post("e1", "pk", "I love bitcoin", 1)

	first, err := cc.Classify(context.Background(), ev, time.Minute)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	second, err := cc.Classify(context.Background(), ev, time.Minute)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}

	if first.Label != "bitcoin" || second.Label != "bitcoin" {
		t.Errorf("labels = %q, %q; want bitcoin", first.Label, second.Label)
	}
	if first.Sequence != second.Sequence {
		t.Errorf("sequences differ: %q vs %q", first.Sequence, second.Sequence)
	}
	if second.EventID != "e1" {
		t.Errorf("cached EventID = %q, want e1", second.EventID)
	}
	if clf.Calls() != 1 {
		t.Errorf("classifier called %d times, want 1", clf.Calls())
	}
	if got := cache.TTL("e1"); got != time.Minute {
		t.Errorf("cache ttl = %v, want 1m", got)
	}
}

func TestClassify_UsesCachedEntry(t *testing.T) {
	clf := keywordClassifier(nil)
	cache := testutil.NewCache()
	cache.Set(context.Background(), "e1", `{"sequence":"some tune","label":"music"}`, time.Hour)
	cc := domain.NewClassificationCache(clf, cache, nil, discardLogger())

	got, err := cc.Classify(context.Background(), post("e1", "pk", "some tune", 1), time.Minute)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if got.Label != "music" || got.EventID != "e1" {
		t.Errorf("Classify() = %+v", got)
	}
	if clf.Calls() != 0 {
		t.Errorf("classifier called %d times on a hit", clf.Calls())
	}
}

func TestClassify_ThresholdBoundary(t *testing.T) {
	threshold := domain.ConfidenceThreshold(len(domain.TopicLabels))
	const eps = 1e-9

	tests := []struct {
		name  string
		score float64
		want  string
	}{
		{"exactly at threshold", threshold, domain.OthersLabel},
		{"just below", threshold - eps, domain.OthersLabel},
		{"just above", threshold + eps, "science"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clf := &testutil.Classifier{
				ClassifyFunc: func(_ context.Context, text string, labels []string) (*domain.Classification, error) {
					return testutil.Result(text, "science", tt.score, labels), nil
				},
			}
			cc := domain.NewClassificationCache(clf, testutil.NewCache(), nil, discardLogger())

			got, err := cc.Classify(context.Background(), post("e1", "pk", "quantum stuff", 1), time.Minute)
			if err != nil {
				t.Fatalf("Classify() error: %v", err)
			}
			if got.Label != tt.want {
				t.Errorf("label = %q, want %q", got.Label, tt.want)
			}
		})
	}
}

func TestClassify_CacheReadErrorIsMiss(t *testing.T) {
	clf := keywordClassifier(map[string]string{"bitcoin": "bitcoin"})
	cache := testutil.NewCache()
	cache.GetErr = errors.New("connection refused")
	cc := domain.NewClassificationCache(clf, cache, nil, discardLogger())

	got, err := cc.Classify(context.Background(), post("e1", "pk", "bitcoin fixes this", 1), time.Minute)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if got.Label != "bitcoin" {
		t.Errorf("label = %q, want bitcoin", got.Label)
	}
	if clf.Calls() != 1 {
		t.Errorf("classifier called %d times, want 1", clf.Calls())
	}
}

func TestClassify_CacheWriteErrorStillReturns(t *testing.T) {
	clf := keywordClassifier(map[string]string{"bitcoin": "bitcoin"})
	cache := testutil.NewCache()
	cache.SetErr = errors.New("read only replica")
	cc := domain.NewClassificationCache(clf, cache, nil, discardLogger())

	got, err := cc.Classify(context.Background(), post("e1", "pk", "bitcoin", 1), time.Minute)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if got.Label != "bitcoin" {
		t.Errorf("label = %q, want bitcoin", got.Label)
	}
	if cache.Sets() != 1 {
		t.Errorf("cache writes attempted = %d, want 1", cache.Sets())
	}
}

func TestClassify_StrippedBlankIsOthers(t *testing.T) {
	clf := keywordClassifier(nil)
	cache := testutil.NewCache()
	cc := domain.NewClassificationCache(clf, cache, nil, discardLogger())

	got, err := cc.Classify(context.Background(), post("e1", "pk", "https://example.com/cat.jpg nostr:note1xyz", 1), time.Minute)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if got.Label != domain.OthersLabel {
		t.Errorf("label = %q, want others", got.Label)
	}
	if clf.Calls() != 0 {
		t.Errorf("classifier called %d times for blank text", clf.Calls())
	}
	if _, ok := cache.Value("e1"); !ok {
		t.Error("others outcome was not cached")
	}
}

func TestClassify_SendsStrippedText(t *testing.T) {
	clf := keywordClassifier(nil)
	cc := domain.NewClassificationCache(clf, testutil.NewCache(), nil, discardLogger())

	if _, err := cc.Classify(context.Background(), post("e1", "pk", "gm https://example.com", 1), time.Minute); err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	texts := clf.Texts()
	if len(texts) != 1 || texts[0] != "gm " {
		t.Errorf("classifier texts = %q, want [\"gm \"]", texts)
	}
}

func TestClassify_Failures(t *testing.T) {
	errBackend := errors.New("inference backend down")
	tests := []struct {
		name    string
		result  *domain.Classification
		err     error
		wantErr error
	}{
		{"classifier error", nil, errBackend, errBackend},
		{"no labels", &domain.Classification{}, nil, domain.ErrMalformedClassification},
		{"length mismatch", &domain.Classification{Labels: []string{"music", "food"}, Scores: []float64{0.9}}, nil, domain.ErrMalformedClassification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clf := &testutil.Classifier{
				ClassifyFunc: func(context.Context, string, []string) (*domain.Classification, error) {
					return tt.result, tt.err
				},
			}
			cache := testutil.NewCache()
			cc := domain.NewClassificationCache(clf, cache, nil, discardLogger())

			_, err := cc.Classify(context.Background(), post("e1", "pk", "text", 1), time.Minute)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Classify() error = %v, want %v", err, tt.wantErr)
			}
			if _, ok := cache.Value("e1"); ok {
				t.Error("failed classification was cached")
			}
		})
	}
}

func TestClassify_ConcurrentMissesShareCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	clf := &testutil.Classifier{
		ClassifyFunc: func(_ context.Context, text string, labels []string) (*domain.Classification, error) {
			once.Do(func() { close(entered) })
			<-release
			return testutil.Result(text, "food", 0.9, labels), nil
		},
	}
	cc := domain.NewClassificationCache(clf, testutil.NewCache(), nil, discardLogger())
	ev := post("e1", "pk", "pizza night", 1)

	const workers = 5
	var wg sync.WaitGroup
	labels := make([]string, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := cc.Classify(context.Background(), ev, time.Minute)
			if err != nil {
				t.Errorf("Classify() error: %v", err)
				return
			}
			labels[i] = out.Label
		}()
	}

	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if clf.Calls() != 1 {
		t.Errorf("classifier called %d times, want 1", clf.Calls())
	}
	for i, l := range labels {
		if l != "food" {
			t.Errorf("worker %d label = %q, want food", i, l)
		}
	}
}

package domain

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

//go:embed stopwords.txt
var stopwordsFile string

// StopWords is the embedded multi-language stopword list applied to every
// collection.
var StopWords = parseStopWords(stopwordsFile)

// DefaultIndexSettings returns the settings applied to topic and profile
// collections. Attribute names follow the nostr event JSON encoding.
func DefaultIndexSettings() IndexSettings {
	return IndexSettings{
		SearchableAttributes: []string{"content"},
		FilterableAttributes: []string{"kind", "created_at", "pubkey"},
		SortableAttributes:   []string{"created_at"},
		StopWords:            StopWords,
	}
}

// TopicIndexManager creates and configures collections on demand and writes
// events into their topic collection.
type TopicIndexManager struct {
	engine   IndexEngine
	settings IndexSettings
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

// NewTopicIndexManager creates a TopicIndexManager using DefaultIndexSettings.
func NewTopicIndexManager(engine IndexEngine, logger *slog.Logger) *TopicIndexManager {
	return &TopicIndexManager{
		engine:   engine,
		settings: DefaultIndexSettings(),
		logger:   logger.With("component", "index_manager"),
		known:    make(map[string]struct{}),
	}
}

// Bootstrap verifies the engine is reachable, ensures the profile collection
// and applies settings to every existing collection. Any error is fatal to
// startup.
func (m *TopicIndexManager) Bootstrap(ctx context.Context) error {
	if err := m.EnsureProfileIndex(ctx); err != nil {
		return err
	}

	names, err := m.engine.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range names {
		if err := m.ApplySettings(ctx, name); err != nil {
			return err
		}
	}
	m.logger.Info("index engine ready", "collections", len(names))
	return nil
}

// EnsureProfileIndex creates the profile collection keyed by pubkey if it
// does not exist.
func (m *TopicIndexManager) EnsureProfileIndex(ctx context.Context) error {
	return m.ensure(ctx, ProfileCollection, "pubkey")
}

// EnsureTopicIndex creates the collection for label keyed by event id if it
// does not exist.
func (m *TopicIndexManager) EnsureTopicIndex(ctx context.Context, label string) error {
	if !IsTopicLabel(label) {
		return fmt.Errorf("ensure topic index: unknown label %q", label)
	}
	return m.ensure(ctx, label, "id")
}

// ApplySettings configures searchable, filterable and sortable attributes
// and stopwords on a collection.
func (m *TopicIndexManager) ApplySettings(ctx context.Context, name string) error {
	if err := m.engine.Configure(ctx, name, m.settings); err != nil {
		return fmt.Errorf("configure collection %s: %w", name, err)
	}
	return nil
}

// AddDocument upserts ev into the collection for label, creating the
// collection on first use.
func (m *TopicIndexManager) AddDocument(ctx context.Context, label string, ev *nostr.Event) error {
	if err := m.EnsureTopicIndex(ctx, label); err != nil {
		return err
	}
	if err := m.engine.Upsert(ctx, label, ev); err != nil {
		return fmt.Errorf("upsert event %s into %s: %w", ev.ID, label, err)
	}
	return nil
}

func (m *TopicIndexManager) ensure(ctx context.Context, name, primaryKey string) error {
	m.mu.Lock()
	_, ok := m.known[name]
	m.mu.Unlock()
	if ok {
		return nil
	}

	names, err := m.engine.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	exists := false
	for _, n := range names {
		if n == name {
			exists = true
			break
		}
	}

	if !exists {
		if err := m.engine.CreateCollection(ctx, name, primaryKey); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		if err := m.ApplySettings(ctx, name); err != nil {
			return err
		}
		m.logger.Info("created collection", "collection", name, "primary_key", primaryKey)
	}

	m.mu.Lock()
	m.known[name] = struct{}{}
	m.mu.Unlock()
	return nil
}

func parseStopWords(data string) []string {
	var words []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}

package domain

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"
)

// EventSource lists events from the relay network.
type EventSource interface {
	// List returns the events matching filter across all configured relays,
	// de-duplicated by id. Implementations must honour filter.Limit.
	List(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// Classification is the raw output of a zero-shot classifier. Labels and
// Scores are parallel slices ordered by descending score.
type Classification struct {
	Sequence string
	Labels   []string
	Scores   []float64
}

// Classifier assigns candidate labels to a piece of text.
type Classifier interface {
	Classify(ctx context.Context, text string, labels []string) (*Classification, error)
}

// Cache is a string key-value store with expiry.
type Cache interface {
	// Get returns the stored value and true, or false if the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// IndexSettings configures how a collection is searched, filtered and sorted.
type IndexSettings struct {
	SearchableAttributes []string
	FilterableAttributes []string
	SortableAttributes   []string
	StopWords            []string
}

// SearchQuery is one query against one collection.
type SearchQuery struct {
	Collection string
	Filter     string
	Sort       []string
	Limit      int
	Offset     int
}

// IndexEngine is the document search engine holding topic and profile
// collections.
type IndexEngine interface {
	// ListCollections returns the names of all existing collections.
	ListCollections(ctx context.Context) ([]string, error)

	// CreateCollection creates a collection with the given primary key.
	CreateCollection(ctx context.Context, name, primaryKey string) error

	// Configure applies settings to a collection.
	Configure(ctx context.Context, name string, settings IndexSettings) error

	// Upsert adds or replaces documents by primary key.
	Upsert(ctx context.Context, name string, docs ...any) error

	// Search runs a query and returns the raw hit documents.
	Search(ctx context.Context, query SearchQuery) ([]json.RawMessage, error)
}

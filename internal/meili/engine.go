// Package meili implements the document index engine on Meilisearch.
package meili

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/meilisearch/meilisearch-go"

	"github.com/blackmichael/nostr-recommender/internal/domain"
)

// listLimit bounds the collection listing. It comfortably exceeds the number
// of topic collections plus the profile collection.
const listLimit = 1000

// Config configures the Meilisearch connection.
type Config struct {
	Host    string
	APIKey  string
	Timeout time.Duration
}

// Engine talks to a Meilisearch server.
type Engine struct {
	client     meilisearch.ServiceManager
	httpClient *http.Client
}

var _ domain.IndexEngine = (*Engine)(nil)

// New creates an Engine. It does not contact the server; the first call
// does.
func New(cfg Config) (*Engine, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("meilisearch host is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	opts := []meilisearch.Option{meilisearch.WithCustomClient(httpClient)}
	if cfg.APIKey != "" {
		opts = append(opts, meilisearch.WithAPIKey(cfg.APIKey))
	}

	return &Engine{
		client:     meilisearch.New(cfg.Host, opts...),
		httpClient: httpClient,
	}, nil
}

// Close releases idle connections.
func (e *Engine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// ListCollections returns the uids of all indexes.
func (e *Engine) ListCollections(ctx context.Context) ([]string, error) {
	res, err := e.client.ListIndexesWithContext(ctx, &meilisearch.IndexesQuery{Limit: listLimit})
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}

	names := make([]string, 0, len(res.Results))
	for _, idx := range res.Results {
		names = append(names, idx.UID)
	}
	return names, nil
}

// CreateCollection enqueues the creation of an index.
func (e *Engine) CreateCollection(ctx context.Context, name, primaryKey string) error {
	_, err := e.client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{
		Uid:        name,
		PrimaryKey: primaryKey,
	})
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Configure enqueues a settings update for an index.
func (e *Engine) Configure(ctx context.Context, name string, settings domain.IndexSettings) error {
	_, err := e.client.Index(name).UpdateSettingsWithContext(ctx, &meilisearch.Settings{
		SearchableAttributes: settings.SearchableAttributes,
		FilterableAttributes: settings.FilterableAttributes,
		SortableAttributes:   settings.SortableAttributes,
		StopWords:            settings.StopWords,
	})
	if err != nil {
		return fmt.Errorf("update settings of %s: %w", name, err)
	}
	return nil
}

// Upsert enqueues the addition or replacement of documents.
func (e *Engine) Upsert(ctx context.Context, name string, docs ...any) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := e.client.Index(name).AddDocumentsWithContext(ctx, docs); err != nil {
		return fmt.Errorf("add documents to %s: %w", name, err)
	}
	return nil
}

// Search runs a placeholder search with filter, sort and pagination.
func (e *Engine) Search(ctx context.Context, q domain.SearchQuery) ([]json.RawMessage, error) {
	resp, err := e.client.Index(q.Collection).SearchWithContext(ctx, "", searchRequest(q))
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Collection, err)
	}

	hits := make([]json.RawMessage, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		raw, err := json.Marshal(hit)
		if err != nil {
			return nil, fmt.Errorf("encode hit from %s: %w", q.Collection, err)
		}
		hits = append(hits, raw)
	}
	return hits, nil
}

func searchRequest(q domain.SearchQuery) *meilisearch.SearchRequest {
	req := &meilisearch.SearchRequest{
		Limit:  int64(q.Limit),
		Offset: int64(q.Offset),
	}
	if q.Filter != "" {
		req.Filter = q.Filter
	}
	if len(q.Sort) > 0 {
		req.Sort = q.Sort
	}
	return req
}

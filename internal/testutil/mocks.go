// Package testutil holds in-memory fakes of the domain ports.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"

	"github.com/blackmichael/nostr-recommender/internal/domain"
)

// ErrNoCollection is returned by Engine for unknown collections.
var ErrNoCollection = errors.New("collection not found")

// Source is a domain.EventSource backed by ListFunc.
type Source struct {
	ListFunc func(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)

	mu      sync.Mutex
	filters []nostr.Filter
}

var _ domain.EventSource = (*Source)(nil)

func (s *Source) List(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	s.mu.Lock()
	s.filters = append(s.filters, filter)
	s.mu.Unlock()
	if s.ListFunc == nil {
		return nil, nil
	}
	return s.ListFunc(ctx, filter)
}

// Filters returns the filters received so far.
func (s *Source) Filters() []nostr.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.filters)
}

// Classifier is a domain.Classifier backed by ClassifyFunc.
type Classifier struct {
	ClassifyFunc func(ctx context.Context, text string, labels []string) (*domain.Classification, error)

	mu    sync.Mutex
	calls int
	texts []string
}

var _ domain.Classifier = (*Classifier)(nil)

func (c *Classifier) Classify(ctx context.Context, text string, labels []string) (*domain.Classification, error) {
	c.mu.Lock()
	c.calls++
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	return c.ClassifyFunc(ctx, text, labels)
}

// Calls returns the number of Classify calls.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Texts returns the texts passed to Classify.
func (c *Classifier) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.texts)
}

// Result builds a classification ranking top first with score, and
// spreading the remainder over the other labels.
func Result(text, top string, score float64, labels []string) *domain.Classification {
	res := &domain.Classification{Sequence: text}
	res.Labels = append(res.Labels, top)
	res.Scores = append(res.Scores, score)

	rest := (1 - score) / float64(max(len(labels)-1, 1))
	for _, l := range labels {
		if l == top {
			continue
		}
		res.Labels = append(res.Labels, l)
		res.Scores = append(res.Scores, rest)
	}
	return res
}

// Cache is an in-memory domain.Cache. GetErr and SetErr, when set, are
// returned instead of touching the store.
type Cache struct {
	GetErr error
	SetErr error

	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	gets int
	sets int
}

var _ domain.Cache = (*Cache)(nil)

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.GetErr != nil {
		return "", false, c.GetErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.SetErr != nil {
		return c.SetErr
	}
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

// Value returns the stored value of key.
func (c *Cache) Value(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

// TTL returns the expiry key was stored with.
func (c *Cache) TTL(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttls[key]
}

// Sets returns the number of Set calls.
func (c *Cache) Sets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

type collection struct {
	primaryKey string
	settings   *domain.IndexSettings
	docs       map[string]json.RawMessage
	order      []string
}

// Engine is an in-memory domain.IndexEngine. It understands equality
// filters of the form `field = "value"` and sorts of the form
// `field:asc|desc` on numeric fields. SearchFunc, when set, replaces Search.
type Engine struct {
	ListErr    error
	SearchFunc func(ctx context.Context, q domain.SearchQuery) ([]json.RawMessage, error)

	mu          sync.Mutex
	collections map[string]*collection
	creates     int
	configures  map[string]int
	upserts     int
	searches    []domain.SearchQuery
}

var _ domain.IndexEngine = (*Engine)(nil)

// NewEngine returns an Engine with no collections.
func NewEngine() *Engine {
	return &Engine{
		collections: make(map[string]*collection),
		configures:  make(map[string]int),
	}
}

func (e *Engine) ListCollections(context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ListErr != nil {
		return nil, e.ListErr
	}
	names := make([]string, 0, len(e.collections))
	for name := range e.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (e *Engine) CreateCollection(_ context.Context, name, primaryKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.creates++
	if _, ok := e.collections[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	e.collections[name] = &collection{
		primaryKey: primaryKey,
		docs:       make(map[string]json.RawMessage),
	}
	return nil
}

func (e *Engine) Configure(_ context.Context, name string, settings domain.IndexSettings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[name]
	if !ok {
		return fmt.Errorf("configure %s: %w", name, ErrNoCollection)
	}
	c.settings = &settings
	e.configures[name]++
	return nil
}

func (e *Engine) Upsert(_ context.Context, name string, docs ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.upserts++
	c, ok := e.collections[name]
	if !ok {
		return fmt.Errorf("upsert %s: %w", name, ErrNoCollection)
	}

	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return err
		}
		key, ok := fields[c.primaryKey].(string)
		if !ok || key == "" {
			return fmt.Errorf("document without primary key %q", c.primaryKey)
		}
		if _, exists := c.docs[key]; !exists {
			c.order = append(c.order, key)
		}
		c.docs[key] = raw
	}
	return nil
}

var equalityFilter = regexp.MustCompile(`^(\w+)\s*=\s*"(.*)"$`)

func (e *Engine) Search(ctx context.Context, q domain.SearchQuery) ([]json.RawMessage, error) {
	e.mu.Lock()
	e.searches = append(e.searches, q)
	fn := e.SearchFunc
	e.mu.Unlock()
	if fn != nil {
		return fn(ctx, q)
	}
	return e.search(q)
}

func (e *Engine) search(q domain.SearchQuery) ([]json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[q.Collection]
	if !ok {
		return nil, fmt.Errorf("search %s: %w", q.Collection, ErrNoCollection)
	}

	type hit struct {
		raw    json.RawMessage
		fields map[string]any
	}
	var hits []hit
	for _, key := range c.order {
		raw := c.docs[key]
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		if m := equalityFilter.FindStringSubmatch(q.Filter); m != nil {
			if fmt.Sprint(fields[m[1]]) != m[2] {
				continue
			}
		}
		hits = append(hits, hit{raw: raw, fields: fields})
	}

	for _, s := range q.Sort {
		field, dir, _ := strings.Cut(s, ":")
		slices.SortStableFunc(hits, func(a, b hit) int {
			x, _ := a.fields[field].(float64)
			y, _ := b.fields[field].(float64)
			cmp := 0
			switch {
			case x < y:
				cmp = -1
			case x > y:
				cmp = 1
			}
			if dir == "desc" {
				cmp = -cmp
			}
			return cmp
		})
	}

	start := min(q.Offset, len(hits))
	end := len(hits)
	if q.Limit > 0 {
		end = min(start+q.Limit, len(hits))
	}
	out := make([]json.RawMessage, 0, end-start)
	for _, h := range hits[start:end] {
		out = append(out, h.raw)
	}
	return out, nil
}

// Collection reports whether name exists and its primary key.
func (e *Engine) Collection(name string) (primaryKey string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[name]
	if !ok {
		return "", false
	}
	return c.primaryKey, true
}

// Settings returns the settings last applied to name.
func (e *Engine) Settings(name string) *domain.IndexSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.collections[name]; ok {
		return c.settings
	}
	return nil
}

// Docs returns the documents of name in insertion order.
func (e *Engine) Docs(name string) []json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[name]
	if !ok {
		return nil
	}
	out := make([]json.RawMessage, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.docs[key])
	}
	return out
}

// Creates returns the number of CreateCollection calls.
func (e *Engine) Creates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creates
}

// Configures returns the number of Configure calls for name.
func (e *Engine) Configures(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configures[name]
}

// Upserts returns the number of Upsert calls.
func (e *Engine) Upserts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upserts
}

// Searches returns the queries received so far.
func (e *Engine) Searches() []domain.SearchQuery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.searches)
}

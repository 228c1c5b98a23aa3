package domain_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/blackmichael/nostr-recommender/internal/domain"
	"github.com/blackmichael/nostr-recommender/internal/testutil"
)

func TestBootstrap_CreatesProfileCollection(t *testing.T) {
	engine := testutil.NewEngine()
	m := domain.NewTopicIndexManager(engine, discardLogger())

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}

	pk, ok := engine.Collection(domain.ProfileCollection)
	if !ok {
		t.Fatal("profile collection not created")
	}
	if pk != "pubkey" {
		t.Errorf("profile primary key = %q, want pubkey", pk)
	}
	if engine.Settings(domain.ProfileCollection) == nil {
		t.Error("profile collection not configured")
	}
}

func TestBootstrap_ConfiguresExistingCollections(t *testing.T) {
	ctx := context.Background()
	engine := testutil.NewEngine()
	engine.CreateCollection(ctx, "music", "id")
	engine.CreateCollection(ctx, domain.ProfileCollection, "pubkey")

	m := domain.NewTopicIndexManager(engine, discardLogger())
	if err := m.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}

	if engine.Creates() != 2 {
		t.Errorf("creates = %d, want only the 2 pre-existing", engine.Creates())
	}
	for _, name := range []string{"music", domain.ProfileCollection} {
		s := engine.Settings(name)
		if s == nil {
			t.Fatalf("%s not configured", name)
		}
		if !slices.Equal(s.SortableAttributes, []string{"created_at"}) {
			t.Errorf("%s sortable = %v", name, s.SortableAttributes)
		}
	}
}

func TestBootstrap_UnreachableEngine(t *testing.T) {
	engine := testutil.NewEngine()
	engine.ListErr = errors.New("dial tcp: connection refused")
	m := domain.NewTopicIndexManager(engine, discardLogger())

	if err := m.Bootstrap(context.Background()); !errors.Is(err, engine.ListErr) {
		t.Errorf("Bootstrap() error = %v, want wrapped list error", err)
	}
}

func TestEnsureTopicIndex_Idempotent(t *testing.T) {
	ctx := context.Background()
	engine := testutil.NewEngine()
	m := domain.NewTopicIndexManager(engine, discardLogger())

	for range 3 {
		if err := m.EnsureTopicIndex(ctx, "bitcoin"); err != nil {
			t.Fatalf("EnsureTopicIndex() error: %v", err)
		}
	}

	if engine.Creates() != 1 {
		t.Errorf("creates = %d, want 1", engine.Creates())
	}
	if engine.Configures("bitcoin") != 1 {
		t.Errorf("configures = %d, want 1", engine.Configures("bitcoin"))
	}
	if pk, _ := engine.Collection("bitcoin"); pk != "id" {
		t.Errorf("primary key = %q, want id", pk)
	}
}

func TestEnsureTopicIndex_ExistingCollection(t *testing.T) {
	ctx := context.Background()
	engine := testutil.NewEngine()
	engine.CreateCollection(ctx, "food", "id")
	m := domain.NewTopicIndexManager(engine, discardLogger())

	if err := m.EnsureTopicIndex(ctx, "food"); err != nil {
		t.Fatalf("EnsureTopicIndex() error: %v", err)
	}
	if engine.Creates() != 1 {
		t.Errorf("creates = %d, want 1", engine.Creates())
	}
}

func TestEnsureTopicIndex_RejectsUnknownLabels(t *testing.T) {
	engine := testutil.NewEngine()
	m := domain.NewTopicIndexManager(engine, discardLogger())

	for _, label := range []string{domain.OthersLabel, "cooking", ""} {
		if err := m.EnsureTopicIndex(context.Background(), label); err == nil {
			t.Errorf("EnsureTopicIndex(%q) succeeded", label)
		}
	}
	if engine.Creates() != 0 {
		t.Errorf("creates = %d, want 0", engine.Creates())
	}
}

func TestAddDocument_UpsertsByID(t *testing.T) {
	ctx := context.Background()
	engine := testutil.NewEngine()
	m := domain.NewTopicIndexManager(engine, discardLogger())

	ev := post("e1", "pk", "stack sats", 100)
	for range 2 {
		if err := m.AddDocument(ctx, "bitcoin", ev); err != nil {
			t.Fatalf("AddDocument() error: %v", err)
		}
	}

	docs := engine.Docs("bitcoin")
	if len(docs) != 1 {
		t.Fatalf("docs = %d, want 1", len(docs))
	}
	if !strings.Contains(string(docs[0]), `"content":"stack sats"`) {
		t.Errorf("stored doc = %s", docs[0])
	}
}

func TestDefaultIndexSettings(t *testing.T) {
	s := domain.DefaultIndexSettings()

	if !slices.Equal(s.SearchableAttributes, []string{"content"}) {
		t.Errorf("searchable = %v", s.SearchableAttributes)
	}
	for _, attr := range []string{"kind", "created_at", "pubkey"} {
		if !slices.Contains(s.FilterableAttributes, attr) {
			t.Errorf("filterable missing %q", attr)
		}
	}
	if !slices.Contains(s.StopWords, "the") {
		t.Error("stopwords missing \"the\"")
	}
	for _, w := range s.StopWords {
		if strings.HasPrefix(w, "#") || strings.TrimSpace(w) != w || w == "" {
			t.Errorf("bad stopword %q", w)
		}
	}
}

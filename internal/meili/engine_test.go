package meili

import (
	"slices"
	"testing"

	"github.com/blackmichael/nostr-recommender/internal/domain"
)

func TestNew_RequiresHost(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without host succeeded")
	}

	e, err := New(Config{Host: "http://localhost:7700", APIKey: "masterKey"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if e.httpClient.Timeout <= 0 {
		t.Error("default http timeout not applied")
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestSearchRequest(t *testing.T) {
	req := searchRequest(domain.SearchQuery{
		Collection: "music",
		Filter:     `pubkey = "abc"`,
		Sort:       []string{"created_at:desc"},
		Limit:      40,
		Offset:     20,
	})

	if req.Limit != 40 || req.Offset != 20 {
		t.Errorf("limit, offset = %d, %d", req.Limit, req.Offset)
	}
	if req.Filter != `pubkey = "abc"` {
		t.Errorf("filter = %v", req.Filter)
	}
	if !slices.Equal(req.Sort, []string{"created_at:desc"}) {
		t.Errorf("sort = %v", req.Sort)
	}

	bare := searchRequest(domain.SearchQuery{Collection: "music", Limit: 3})
	if bare.Filter != nil || bare.Sort != nil {
		t.Errorf("empty query set filter %v, sort %v", bare.Filter, bare.Sort)
	}
}

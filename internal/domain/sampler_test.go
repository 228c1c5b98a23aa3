package domain

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

type lastRand struct{}

func (lastRand) IntN(n int) int { return n - 1 }

func authors(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("author-%03d", i)
	}
	return out
}

func TestSampleAuthors_OnePerChunk(t *testing.T) {
	all := authors(100)
	got := SampleAuthors(all, 45, rand.New(rand.NewPCG(1, 2)))

	if len(got) != 3 {
		t.Fatalf("len = %d, want ceil(100/45) = 3", len(got))
	}
	for i, a := range got {
		idx := slices.Index(all, a)
		if idx < i*45 || idx >= min((i+1)*45, len(all)) {
			t.Errorf("sample %d = %s (index %d) is outside its chunk", i, a, idx)
		}
	}
}

func TestSampleAuthors_Reproducible(t *testing.T) {
	all := authors(200)
	a := SampleAuthors(all, 45, rand.New(rand.NewPCG(7, 7)))
	b := SampleAuthors(all, 45, rand.New(rand.NewPCG(7, 7)))
	if !slices.Equal(a, b) {
		t.Errorf("same seed gave %v and %v", a, b)
	}
}

func TestSampleAuthors_Edges(t *testing.T) {
	if got := SampleAuthors(nil, 45, lastRand{}); got != nil {
		t.Errorf("no authors: got %v", got)
	}
	if got := SampleAuthors(authors(10), 0, lastRand{}); got != nil {
		t.Errorf("zero chunk size: got %v", got)
	}

	got := SampleAuthors(authors(5), 2, lastRand{})
	want := []string{"author-001", "author-003", "author-004"}
	if !slices.Equal(got, want) {
		t.Errorf("SampleAuthors() = %v, want %v", got, want)
	}
}

func TestUniqueAuthors(t *testing.T) {
	evs := []*nostr.Event{{PubKey: "b"}, {PubKey: "a"}, {PubKey: "b"}, {PubKey: "c"}}
	if got := UniqueAuthors(evs); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("UniqueAuthors() = %v", got)
	}
}

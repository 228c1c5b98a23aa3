package domain

import "github.com/nbd-wtf/go-nostr"

// Rand is the random source used by the sampler. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// SampleAuthors splits authors into consecutive chunks of chunkSize and picks
// one author uniformly at random from each chunk. The last chunk may be
// shorter. A non-positive chunkSize yields no samples.
func SampleAuthors(authors []string, chunkSize int, rng Rand) []string {
	if chunkSize <= 0 || len(authors) == 0 {
		return nil
	}

	samples := make([]string, 0, (len(authors)+chunkSize-1)/chunkSize)
	for start := 0; start < len(authors); start += chunkSize {
		end := min(start+chunkSize, len(authors))
		chunk := authors[start:end]
		samples = append(samples, chunk[rng.IntN(len(chunk))])
	}
	return samples
}

// UniqueAuthors returns the distinct pubkeys of evs in first-seen order.
func UniqueAuthors(evs []*nostr.Event) []string {
	seen := make(map[string]struct{}, len(evs))
	var out []string
	for _, ev := range evs {
		if _, ok := seen[ev.PubKey]; ok {
			continue
		}
		seen[ev.PubKey] = struct{}{}
		out = append(out, ev.PubKey)
	}
	return out
}

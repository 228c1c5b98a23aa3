package domain_test

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/blackmichael/nostr-recommender/internal/domain"
	"github.com/blackmichael/nostr-recommender/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func post(id, pubkey, content string, createdAt int64, tags ...nostr.Tag) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    pubkey,
		Kind:      nostr.KindTextNote,
		Content:   content,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      tags,
	}
}

// keywordClassifier labels text by the first keyword it contains with a
// confident score. Text without a keyword gets a flat, unconfident result.
func keywordClassifier(keywords map[string]string) *testutil.Classifier {
	return &testutil.Classifier{
		ClassifyFunc: func(_ context.Context, text string, labels []string) (*domain.Classification, error) {
			for word, label := range keywords {
				if strings.Contains(text, word) {
					return testutil.Result(text, label, 0.9, labels), nil
				}
			}
			return testutil.Result(text, labels[0], 1/float64(len(labels)), labels), nil
		},
	}
}

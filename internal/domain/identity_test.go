package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr/nip19"
)

const testPubKey = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

func TestParseIdentity(t *testing.T) {
	npub, err := nip19.EncodePublicKey(testPubKey)
	if err != nil {
		t.Fatalf("encode npub: %v", err)
	}

	tests := []struct {
		name     string
		identity string
		want     string
	}{
		{"hex", testPubKey, testPubKey},
		{"uppercase hex", strings.ToUpper(testPubKey), testPubKey},
		{"npub", npub, testPubKey},
		{"padded", "  " + npub + " ", testPubKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentity(tt.identity)
			if err != nil {
				t.Fatalf("ParseIdentity() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseIdentity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseIdentity_Invalid(t *testing.T) {
	nsec, err := nip19.EncodePrivateKey(testPubKey)
	if err != nil {
		t.Fatalf("encode nsec: %v", err)
	}
	note, err := nip19.EncodeNote(testPubKey)
	if err != nil {
		t.Fatalf("encode note: %v", err)
	}

	for _, identity := range []string{
		"",
		"alice",
		testPubKey[:63],
		testPubKey + "0",
		strings.Replace(testPubKey, "3", "g", 1),
		"npub1notbech32",
		nsec,
		note,
	} {
		if _, err := ParseIdentity(identity); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("ParseIdentity(%q) error = %v, want ErrInvalidIdentity", identity, err)
		}
	}
}

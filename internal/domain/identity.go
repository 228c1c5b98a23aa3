package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrInvalidIdentity is returned for identities that are neither a hex
// public key nor an npub.
var ErrInvalidIdentity = errors.New("not a valid hex or npub nostr key")

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// IsHexKey reports whether s is a 32-byte hex-encoded public key.
func IsHexKey(s string) bool {
	return hexKeyPattern.MatchString(s)
}

// ParseIdentity returns the lowercase hex public key for a hex or npub
// identity.
func ParseIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if IsHexKey(identity) {
		return strings.ToLower(identity), nil
	}
	if !strings.HasPrefix(identity, "npub1") {
		return "", ErrInvalidIdentity
	}

	prefix, value, err := nip19.Decode(identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	hex, ok := value.(string)
	if prefix != "npub" || !ok || !IsHexKey(hex) {
		return "", ErrInvalidIdentity
	}
	return strings.ToLower(hex), nil
}

package domain

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"
)

var (
	urlPattern      = regexp.MustCompile(`(?:https?)://(\w+:?\w*)?(\S+)(:\d+)?(/|/([\w#!:.?+=&%!\-/]))?`)
	deepLinkPattern = regexp.MustCompile(`^(?:nostr:|mastadon:py).+`)
	mediaPattern    = regexp.MustCompile(`^photo_.+`)
)

// referenceTags are the tag names that mark an event as a reply, a quote or
// a mention of another event or identity.
var referenceTags = map[string]struct{}{
	"e": {},
	"p": {},
	"q": {},
}

// IsTopLevelPost reports whether ev carries no reply, quote or mention tags.
func IsTopLevelPost(ev *nostr.Event) bool {
	for _, tag := range ev.Tags {
		if len(tag) == 0 {
			continue
		}
		if _, ok := referenceTags[tag[0]]; ok {
			return false
		}
	}
	return true
}

// IsIndexable reports whether ev has content worth indexing. Content made
// only of URLs, or of whitespace, is noise.
func IsIndexable(ev *nostr.Event) bool {
	for _, token := range strings.Fields(ev.Content) {
		if !urlPattern.MatchString(token) {
			return true
		}
	}
	return false
}

// StripURLs returns a copy of ev whose content has URL, deep-link and media
// placeholder tokens blanked out. Line and space delimiters are kept.
func StripURLs(ev *nostr.Event) *nostr.Event {
	lines := strings.Split(ev.Content, "\n")
	for i, line := range lines {
		tokens := strings.Split(line, " ")
		for j, token := range tokens {
			if urlPattern.MatchString(token) ||
				deepLinkPattern.MatchString(token) ||
				mediaPattern.MatchString(token) {
				tokens[j] = ""
			}
		}
		lines[i] = strings.Join(tokens, " ")
	}

	stripped := *ev
	stripped.Content = strings.Join(lines, "\n")
	return &stripped
}

// UnwrapRepost decodes the event embedded in a repost. It returns nil when
// ev is not a repost or the payload cannot be parsed into a post.
func UnwrapRepost(ev *nostr.Event) *nostr.Event {
	if ev.Kind != nostr.KindRepost || strings.TrimSpace(ev.Content) == "" {
		return nil
	}

	var inner nostr.Event
	if err := json.Unmarshal([]byte(ev.Content), &inner); err != nil {
		return nil
	}
	if inner.ID == "" || inner.Kind != nostr.KindTextNote {
		return nil
	}
	return &inner
}

// ReferencedIDs returns the de-duplicated ids of the events targeted by evs
// of the given kind, in first-seen order. Reactions target their last "e"
// tag. Posts target their "reply"-marked "e" tag, falling back to the last
// one. Reposts whose content is empty target their first "e" tag.
func ReferencedIDs(evs []*nostr.Event, kind int) []string {
	seen := make(map[string]struct{})
	var ids []string

	for _, ev := range evs {
		if ev.Kind != kind {
			continue
		}

		var id string
		switch kind {
		case nostr.KindReaction:
			id = lastEventTag(ev)
		case nostr.KindTextNote:
			id = replyTarget(ev)
		case nostr.KindRepost:
			if strings.TrimSpace(ev.Content) == "" {
				id = firstEventTag(ev)
			}
		}

		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// DedupeEvents drops events whose id was already seen, keeping the first
// occurrence and the original order.
func DedupeEvents(evs []*nostr.Event) []*nostr.Event {
	seen := make(map[string]struct{}, len(evs))
	out := make([]*nostr.Event, 0, len(evs))
	for _, ev := range evs {
		if ev == nil {
			continue
		}
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out
}

func replyTarget(ev *nostr.Event) string {
	var last string
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		if len(tag) >= 4 && tag[3] == "reply" {
			return tag[1]
		}
		last = tag[1]
	}
	return last
}

func lastEventTag(ev *nostr.Event) string {
	var last string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			last = tag[1]
		}
	}
	return last
}

func firstEventTag(ev *nostr.Event) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			return tag[1]
		}
	}
	return ""
}

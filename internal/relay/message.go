package relay

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
)

// errClosed is returned when the relay closes the subscription.
var errClosed = errors.New("subscription closed by relay")

// relayMessage is a decoded relay-to-client frame such as
// ["EVENT", <sub>, <event>], ["EOSE", <sub>], ["CLOSED", <sub>, <reason>]
// or ["NOTICE", <message>].
type relayMessage struct {
	Label string
	Args  []json.RawMessage
}

func parseMessage(data []byte) (*relayMessage, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return nil, fmt.Errorf("unmarshal frame label: %w", err)
	}
	return &relayMessage{Label: label, Args: frame[1:]}, nil
}

// subscription tracks one REQ on one connection.
type subscription struct {
	id     string
	filter nostr.Filter
}

func newSubscription(filter nostr.Filter) *subscription {
	return &subscription{
		id:     uuid.NewString(),
		filter: filter,
	}
}

func (s *subscription) request() ([]byte, error) {
	payload, err := json.Marshal([]any{"REQ", s.id, s.filter})
	if err != nil {
		return nil, fmt.Errorf("marshal REQ: %w", err)
	}
	return payload, nil
}

func (s *subscription) close() ([]byte, error) {
	return json.Marshal([]any{"CLOSE", s.id})
}

// handle processes one relay message. It reports whether the stored events
// have been exhausted and returns the event carried by msg, if any.
func (s *subscription) handle(msg *relayMessage) (done bool, ev *nostr.Event, err error) {
	switch msg.Label {
	case "EVENT":
		if len(msg.Args) < 2 || !s.owns(msg.Args[0]) {
			return false, nil, nil
		}
		var event nostr.Event
		if err := json.Unmarshal(msg.Args[1], &event); err != nil {
			return false, nil, nil
		}
		if event.ID == "" || event.GetID() != event.ID {
			return false, nil, nil
		}
		return false, &event, nil

	case "EOSE":
		if len(msg.Args) < 1 || !s.owns(msg.Args[0]) {
			return false, nil, nil
		}
		return true, nil, nil

	case "CLOSED":
		if len(msg.Args) < 1 || !s.owns(msg.Args[0]) {
			return false, nil, nil
		}
		var reason string
		if len(msg.Args) > 1 {
			json.Unmarshal(msg.Args[1], &reason)
		}
		return true, nil, fmt.Errorf("%w: %s", errClosed, reason)

	default:
		return false, nil, nil
	}
}

func (s *subscription) owns(raw json.RawMessage) bool {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return false
	}
	return id == s.id
}

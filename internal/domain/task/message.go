package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidMessage = errors.New("invalid inbound message")

const EventAssignmentSubmitted = "AssignmentSubmitted"

// InboundMessage is a queue message as received. ID is the handle used to
// delete it.
type InboundMessage struct {
	ID   string
	Body []byte
}

// CompletionEvent is one marketplace notification event.
type CompletionEvent struct {
	EventType      string `json:"EventType"`
	EventTimestamp string `json:"EventTimestamp,omitempty"`
	HITTypeID      string `json:"HITTypeId,omitempty"`
	HITID          string `json:"HITId,omitempty"`
	AssignmentID   string `json:"AssignmentId"`
}

type notificationBody struct {
	Events []CompletionEvent `json:"Events"`
}

// DecodeEvents parses a notification body and keeps the events that carry
// an assignment. Pings and other event classes are dropped.
func DecodeEvents(body []byte) ([]CompletionEvent, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}

	var n notificationBody
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	out := make([]CompletionEvent, 0, len(n.Events))
	for _, e := range n.Events {
		if e.EventType != EventAssignmentSubmitted || e.AssignmentID == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// EncodeEvents is the inverse of DecodeEvents, used by the queue bridge and tests.
func EncodeEvents(events ...CompletionEvent) ([]byte, error) {
	return json.Marshal(notificationBody{Events: events})
}

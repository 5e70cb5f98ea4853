package signaling

import (
	"encoding/json"
	"errors"
	"strings"

	"chat-relay/internal/messages"
)

// Inbound and outbound event types. Every frame on the persistent
// connection is a JSON object with a "type" discriminator; call-control
// events not listed here (offers, answers, ICE candidates) pass through
// the relay unchanged.
const (
	EventMessageSend = "message:send"
	EventMessageSent = "message:sent"
	EventMessageNew  = "message:new"
	EventMessageRead = "message:read"

	EventCallInvite   = "call:invite"
	EventCallIncoming = "call:incoming"
	EventCallEnded    = "call:ended"
	EventCallDeclined = "call:declined"
	EventCallError    = "call:error"

	callPrefix = "call:"
)

var errMissingType = errors.New("event missing type")

// Event is one decoded inbound frame. Typed fields cover what the
// router dispatches on; the full payload is retained so call events can
// be forwarded to the peer without stripping client-defined fields.
type Event struct {
	Type           string
	ConversationID string
	Body           string
	TempID         string
	ToUserID       string

	fields map[string]any
}

// ParseEvent decodes a frame. It fails only on malformed JSON or a
// missing/empty type; unrecognized types parse fine and are dropped by
// the router.
func ParseEvent(data []byte) (Event, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Event{}, err
	}

	e := Event{fields: fields}
	e.Type = stringField(fields, "type")
	if e.Type == "" {
		return Event{}, errMissingType
	}
	e.ConversationID = stringField(fields, "conversationId")
	e.Body = stringField(fields, "body")
	e.TempID = stringField(fields, "tempId")
	e.ToUserID = stringField(fields, "toUserId")
	return e, nil
}

// IsCall reports whether the event belongs to the call-control family.
func (e Event) IsCall() bool {
	return strings.HasPrefix(e.Type, callPrefix)
}

// forwardPayload returns the event's full payload with fromUserId
// attached and any overrides applied, ready to relay to the peer.
func (e Event) forwardPayload(fromUserID string, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(e.fields)+1+len(overrides))
	for k, v := range e.fields {
		out[k] = v
	}
	out["fromUserId"] = fromUserID
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// MessageSentAck confirms persistence to the sender, echoing the
// client's correlation id so it can reconcile its optimistic copy.
type MessageSentAck struct {
	Type    string           `json:"type"`
	Message messages.Message `json:"message"`
	TempID  string           `json:"tempId,omitempty"`
}

// MessageNew notifies a conversation participant of a persisted message.
type MessageNew struct {
	Type    string           `json:"type"`
	Message messages.Message `json:"message"`
}

// CallError tells the sender a call event could not be delivered.
type CallError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

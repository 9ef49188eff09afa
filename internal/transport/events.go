package transport

import (
	"encoding/json"

	"chatline/app/internal/models"
)

// Event is one typed inbound frame from the push channel.
type Event interface{ isEvent() }

// NewMessageEvent carries a full message pushed by the backend.
type NewMessageEvent struct {
	Message models.Message
}

// ReadReceiptEvent reports that an existing message has been read.
type ReadReceiptEvent struct {
	MessageID string
}

// PresenceEvent carries the current online-user roster.
type PresenceEvent struct {
	UserIDs []string
}

func (NewMessageEvent) isEvent()  {}
func (ReadReceiptEvent) isEvent() {}
func (PresenceEvent) isEvent()    {}

// envelope sniffs the frame shape. Message frames carry no "type"
// field; control frames are discriminated by it.
type envelope struct {
	Type      string   `json:"type"`
	MessageID string   `json:"messageId"`
	UserIDs   []string `json:"userIds"`
}

// DecodeEvent parses one raw text frame into a typed Event. Frames
// that cannot be parsed or miss required fields yield ErrMalformedEvent;
// the caller drops them without surfacing an error.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedEvent
	}

	switch env.Type {
	case "read":
		if env.MessageID == "" {
			return nil, ErrMalformedEvent
		}
		return ReadReceiptEvent{MessageID: env.MessageID}, nil
	case "presence":
		return PresenceEvent{UserIDs: env.UserIDs}, nil
	case "", "message":
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, ErrMalformedEvent
		}
		if msg.ID == "" || msg.SenderID == "" {
			return nil, ErrMalformedEvent
		}
		return NewMessageEvent{Message: msg}, nil
	default:
		return nil, ErrMalformedEvent
	}
}

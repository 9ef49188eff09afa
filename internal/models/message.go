package models

import "time"

// MessageStatus tracks where a message is in its delivery lifecycle.
type MessageStatus string

const (
	// StatusSent is the optimistic local state before the backend confirms.
	StatusSent MessageStatus = "sent"
	// StatusDelivered means the backend has persisted the message.
	StatusDelivered MessageStatus = "delivered"
	// StatusRead means the peer has seen the message.
	StatusRead MessageStatus = "read"
	// StatusFailed marks a send whose submit was rejected. Terminal.
	StatusFailed MessageStatus = "failed"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// CanAdvance reports whether a transition from s to next is legal.
// Status only moves forward through sent -> delivered -> read, or
// sideways into failed from sent. It never moves backward.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if next == StatusFailed {
		return s == StatusSent
	}
	if s == StatusFailed {
		return false
	}
	return next.rank() > s.rank()
}

// Message is one unit of a 1:1 conversation. While a send is still
// unacknowledged its ID holds a locally generated placeholder value.
type Message struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Text       string        `json:"text,omitempty"`
	Image      string        `json:"image,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	Status     MessageStatus `json:"status,omitempty"`
}

// Between reports whether the message was exchanged between the two
// given user ids, in either direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}

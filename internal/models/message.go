package models

import "time"

// MessageStatus is the delivery state of a direct message. Values only move
// forward: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// rank orders the statuses so transitions can be checked for monotonicity.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo reports whether a message in status s may move to next.
// Only single forward steps are allowed.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return s.Valid() && next.rank() == s.rank()+1
}

// Message is a direct message between two identities.
type Message struct {
	ID        string        `json:"id" db:"id"`
	Sender    string        `json:"sender" db:"sender" validate:"required"`
	Receiver  string        `json:"receiver" db:"receiver" validate:"required"`
	Body      string        `json:"message" db:"message" validate:"required"`
	Status    MessageStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" db:"updated_at"`
}

// WithStatus returns a copy of m carrying the given status.
func (m Message) WithStatus(status MessageStatus) *Message {
	m.Status = status
	return &m
}

// InConversation reports whether m was exchanged between a and b in either direction.
func (m *Message) InConversation(a, b string) bool {
	return (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a)
}

package models

import "time"

// MessageStatus is the delivery state of a direct message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

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

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo reports whether a message in status s may move to next.
// Statuses only move forward and read is terminal.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

// Predecessors lists every status that may advance to s.
func (s MessageStatus) Predecessors() []MessageStatus {
	var out []MessageStatus
	for _, candidate := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		if candidate.CanAdvanceTo(s) {
			out = append(out, candidate)
		}
	}
	return out
}

// Message represents a direct message inside a connection.
type Message struct {
	ID           int           `db:"id" json:"id"`
	ConnectionID int           `db:"connection_id" json:"connection"`
	Sender       User          `db:"sender" json:"sender"`
	Text         string        `db:"text" json:"text"`
	Status       MessageStatus `db:"status" json:"status"`
	CreatedAt    time.Time     `db:"created_at" json:"created"`
}

// DeliveryReceipt identifies a message whose status changed and the user who
// should be told about it.
type DeliveryReceipt struct {
	MessageID      int           `db:"id" json:"message_id"`
	SenderUsername string        `db:"sender_username" json:"-"`
	Status         MessageStatus `db:"status" json:"status"`
}

// MessagePage is one page of a connection's history, newest first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Next     *string   `json:"next"`
}

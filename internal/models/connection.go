package models

import "time"

// Connection is a friend request or, once accepted, a friend relationship
// between two users.
type Connection struct {
	ID        int       `db:"id" json:"id"`
	Sender    User      `db:"sender" json:"sender"`
	Receiver  User      `db:"receiver" json:"receiver"`
	Accepted  bool      `db:"accepted" json:"accepted"`
	CreatedAt time.Time `db:"created_at" json:"created"`
	UpdatedAt time.Time `db:"updated_at" json:"updated"`
}

// Involves reports whether userID is one of the two parties.
func (c Connection) Involves(userID int) bool {
	return c.Sender.ID == userID || c.Receiver.ID == userID
}

// Other returns the party that is not userID.
func (c Connection) Other(userID int) User {
	if c.Sender.ID == userID {
		return c.Receiver
	}
	return c.Sender
}

// FriendSummary is one row of a friend list.
type FriendSummary struct {
	ID        int       `json:"id"`
	Friend    User      `json:"friend"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated"`
	Online    bool      `json:"online"`
}

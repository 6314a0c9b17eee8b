package models

import "strings"

// User is a registered account as stored in the record store.
type User struct {
	ID        int    `db:"id" json:"-"`
	Username  string `db:"username" json:"username"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Thumbnail string `db:"thumbnail" json:"thumbnail"`
}

// Identity is the normalized form of a username used for presence keys and
// personal group names.
func Identity(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Relationship statuses reported by user search, relative to the caller.
const (
	RelationPendingThem  = "pending_them"
	RelationPendingMe    = "pending_me"
	RelationConnected    = "connected"
	RelationNoConnection = "no connection"
)

// SearchResult is a user matched by a search query with its relationship
// status relative to the searching user.
type SearchResult struct {
	User
	PendingThem bool   `db:"pending_them" json:"-"`
	PendingMe   bool   `db:"pending_me" json:"-"`
	Connected   bool   `db:"connected" json:"-"`
	Status      string `db:"-" json:"status"`
}

// ResolveStatus fills Status from the relationship flags. A request the
// caller sent wins over one they received, which wins over an accepted link.
func (r *SearchResult) ResolveStatus() {
	switch {
	case r.PendingThem:
		r.Status = RelationPendingThem
	case r.PendingMe:
		r.Status = RelationPendingMe
	case r.Connected:
		r.Status = RelationConnected
	default:
		r.Status = RelationNoConnection
	}
}

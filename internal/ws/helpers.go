package ws

import "github.com/google/uuid"

func newConnID() string {
	return uuid.NewString()
}

// ChatGroup is the personal group every chat session of identity joins.
func ChatGroup(identity string) string {
	return "chat." + identity
}

// CallGroup is the personal group every signaling session of identity joins.
// Its prefix keeps it disjoint from ChatGroup for any identity.
func CallGroup(identity string) string {
	return "call." + identity
}

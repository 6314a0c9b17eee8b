package models

// Chat sources. Inbound frames carry one of the request sources; outbound
// frames mirror them and add the server-originated ones.
const (
	SourceSearch         = "search"
	SourceThumbnail      = "thumbnail"
	SourceRequestConnect = "request.connect"
	SourceRequestList    = "request.list"
	SourceRequestAccept  = "request.accept"
	SourceFriendList     = "friend.list"
	SourceMessageSend    = "message.send"
	SourceMessageList    = "message.list"
	SourceMessageTyping  = "message.typing"
	SourceMessageRead    = "message.read"

	SourceMessageDelivered = "message.delivered"
	SourceUserStatus       = "user.status"
	SourceError            = "error"
)

// ChatEvent is an outbound chat frame.
type ChatEvent struct {
	Source string `json:"source"`
	Data   any    `json:"data"`
}

// ChatFrame is the envelope of an inbound chat frame. Routes decode their own
// fields from the raw frame.
type ChatFrame struct {
	Source string `json:"source"`
}

// StatusChange is the payload of message.delivered and message.read events.
type StatusChange struct {
	MessageID int           `json:"message_id"`
	Status    MessageStatus `json:"status"`
}

// UserStatus is the payload of a user.status presence event.
type UserStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// TypingNotice is the payload of a message.typing event.
type TypingNotice struct {
	Username     string `json:"username"`
	ConnectionID int    `json:"connection_id"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Signaling actions.
const (
	ActionPing              = "ping"
	ActionPong              = "pong"
	ActionCall              = "call"
	ActionOffer             = "offer"
	ActionAnswer            = "answer"
	ActionCandidate         = "candidate"
	ActionAccept            = "accept"
	ActionDecline           = "decline"
	ActionEndCall           = "end-call"
	ActionError             = "error"
	ActionConnectionSuccess = "connection_success"
)

// CallRing is delivered to a callee when a call is initiated.
type CallRing struct {
	Action          string `json:"action"`
	Caller          string `json:"caller"`
	Recipient       string `json:"recipient"`
	RecipientOnline bool   `json:"recipient_online"`
	Timestamp       string `json:"timestamp"`
}

// SignalError is an error frame on a signaling connection.
type SignalError struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

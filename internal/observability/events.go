package observability

// Routing keys for session lifecycle events.
const (
	RoutingChatEvents = "ws_events.chats"
	RoutingCallEvents = "ws_events.calls"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// RoutingKey returns the lifecycle routing key for a session kind.
func RoutingKey(kind string) string {
	if kind == "call" {
		return RoutingCallEvents
	}
	return RoutingChatEvents
}

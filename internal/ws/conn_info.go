package ws

import (
	"time"

	"realtime-chat/internal/observability"
)

// ConnInfo describes one authenticated websocket connection.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Username    string
	Identity    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) envelope(kind, event, reason string) observability.EventEnvelope {
	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(i.ConnectedAt).Milliseconds()
	}
	return observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        kind,
				"event":       event,
				"conn_id":     i.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   i.UserID,
				"username":  i.Username,
				"device_id": i.DeviceID,
				"ip":        i.IP,
			},
		},
	}
}

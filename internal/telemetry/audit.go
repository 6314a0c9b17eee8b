package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Publisher is the sink audit envelopes are written to.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter publishes audit_log envelopes for security-relevant actions
// such as friend request acceptance and call setup.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level      string         `json:"level"`
	Text       string         `json:"text"`
	Action     string         `json:"action,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes a free-form audit line.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.publish(ctx, requestID, userID, AuditPayload{Level: level, Text: text})
}

// Record publishes an audit entry for action performed by actor.
func (e *AuditEmitter) Record(ctx context.Context, requestID, actor, action string, attrs map[string]any) {
	var user *string
	if actor != "" {
		user = &actor
	}
	e.publish(ctx, requestID, user, AuditPayload{
		Level:      "INFO",
		Text:       actor + " " + action,
		Action:     action,
		Attributes: attrs,
	})
}

func (e *AuditEmitter) publish(ctx context.Context, requestID string, userID *string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	entry := logrus.WithFields(logrus.Fields{"level": payload.Level, "request_id": requestID, "text": payload.Text})
	if userID != nil {
		entry = entry.WithField("user", *userID)
	}
	entry.Debug("audit emit")

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		logrus.WithError(err).Warn("audit publish failed")
	}
}

package telemetry

import (
	"context"
	"time"

	"chat-sync/internal/rabbitmq"
)

// AuditEmitter publishes engine lifecycle events (connects, disconnects,
// subscribes, dedup drops, send failures) for offline inspection.
type AuditEmitter struct {
	publisher   rabbitmq.Publisher
	routingKey  string
	service     string
	environment string
	sessionID   string
}

type AuditEnvelope struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	EventName     string         `json:"event_name"`
	OccurredAt    string         `json:"occurred_at"`
	Service       string         `json:"service"`
	Environment   string         `json:"environment"`
	SessionID     string         `json:"session_id"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func NewAuditEmitter(publisher rabbitmq.Publisher, routingKey, service, environment, sessionID string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		sessionID:   sessionID,
	}
}

// Emit publishes one lifecycle event. Safe on a nil emitter.
func (e *AuditEmitter) Emit(ctx context.Context, eventName string, payload map[string]any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "sync_events",
		EventName:     eventName,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		SessionID:     e.sessionID,
		Payload:       payload,
	}

	headers := map[string]string{"x-session-id": e.sessionID}
	_ = e.publisher.Publish(ctx, e.routingKey, envelope, headers)
}

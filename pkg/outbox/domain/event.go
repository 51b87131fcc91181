package domain

import (
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// MaxAttempts is how many publish failures an event survives before the
// worker stops picking it up.
const MaxAttempts = 10

type OutboxEvent struct {
	Id            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	// Headers holds the trace context of the transaction that wrote the event.
	Headers     json.RawMessage
	CreatedAt   time.Time
	PublishedAt *time.Time
	Attempts    int64
	LastError   *string
	Topic       string
}

// TraceCarrier decodes Headers. Malformed or empty headers yield an empty
// carrier.
func (e *OutboxEvent) TraceCarrier() propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	if len(e.Headers) > 0 {
		_ = json.Unmarshal(e.Headers, &carrier)
	}
	return carrier
}

// EncodeTraceCarrier is the inverse of TraceCarrier.
func EncodeTraceCarrier(carrier propagation.MapCarrier) json.RawMessage {
	if len(carrier) == 0 {
		return json.RawMessage(`{}`)
	}

	raw, err := json.Marshal(carrier)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// Package events defines the canonical envelope exchanged between services,
// the Kafka topics that carry it, and producer/consumer plumbing shared by
// every service binary.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic names used across the platform.
const (
	TopicPaymentsRequested        = "payments.requested"
	TopicRiskApproved             = "risk.approved"
	TopicRiskDenied               = "risk.denied"
	TopicProviderAuthorizeRequest = "provider.authorize.requested"
	TopicPaymentsAuthorized       = "payments.authorized"
	TopicPaymentsFailed           = "payments.failed"
	TopicPaymentsCaptured         = "payments.captured"
	TopicPaymentsSettled          = "payments.settled"
	TopicPaymentsReversed         = "payments.reversed"
	TopicPaymentsDLQ              = "payments.dlq"
)

// Envelope is the canonical event shape sent across Kafka topics.
// The trace_id correlates one payment's journey end-to-end.
type Envelope struct {
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	TraceID     string                 `json:"trace_id"`
	Payload     map[string]interface{} `json:"payload"`
}

// NewEnvelope builds an Envelope with a fresh event id and timestamp.
func NewEnvelope(eventType, aggregateID, traceID string, payload map[string]interface{}) Envelope {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		TraceID:     traceID,
		Payload:     payload,
	}
}

// Marshal returns the JSON wire form of the envelope.
func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal decodes a wire-form envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	var err = json.Unmarshal(data, &e)
	return e, err
}

// PayloadString returns a string payload field, or "" when absent or of the
// wrong type.
func (e Envelope) PayloadString(key string) string {
	var s, _ = e.Payload[key].(string)
	return s
}

// PayloadInt returns an integer payload field. JSON numbers decode as
// float64, so both forms are accepted; def is returned when the field is
// absent or not a number.
func (e Envelope) PayloadInt(key string, def int64) int64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	return def
}

// PayloadBool returns a boolean payload field.
func (e Envelope) PayloadBool(key string) bool {
	var b, _ = e.Payload[key].(bool)
	return b
}

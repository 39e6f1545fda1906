// Package events defines the domain events published to Kafka.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	ConnectionProbed  = "connection.probed"
	ConnectionDeleted = "connection.deleted"
	TurnCompleted     = "turn.completed"
)

// Event is the JSON envelope of every published event.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Key        string         `json:"key"`
	Payload    map[string]any `json:"payload"`
}

// New builds an event with a fresh id. key selects the Kafka partition.
func New(eventType, key string, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Key:        key,
		Payload:    payload,
	}
}

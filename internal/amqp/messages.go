package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names what changed.
type EventType string

const (
	TransactionCreated EventType = "transaction.created"
	TransactionUpdated EventType = "transaction.updated"
	TransactionDeleted EventType = "transaction.deleted"
	BudgetSaved        EventType = "budget.saved"
)

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	switch t {
	case TransactionCreated, TransactionUpdated, TransactionDeleted, BudgetSaved:
		return true
	default:
		return false
	}
}

// ChangeEvent is a lightweight notification that a record changed.
// It carries only the id; consumers fetch the current state from storage.
type ChangeEvent struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeEvent creates an event stamped with the current time.
func NewChangeEvent(t EventType, id string) *ChangeEvent {
	return &ChangeEvent{Type: t, ID: id, Timestamp: time.Now().UTC()}
}

// ToJSON converts the message to JSON bytes
func (e *ChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ChangeEventFromJSON decodes and validates an event.
func ChangeEventFromJSON(data []byte) (*ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if !e.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("event %s without id", e.Type)
	}
	return &e, nil
}

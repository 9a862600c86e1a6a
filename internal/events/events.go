// Package events publishes a record of every finished housing request so
// other systems can follow search and sheet activity without polling.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeRequestCompleted = "homesheet.request.completed"
	TypeAuthCompleted    = "homesheet.auth.completed"
)

// Source is stamped on every event.
const Source = "homesheet"

// Event is the envelope written to the event stream. UserHash is the
// anonymized user identity; raw identities never leave the process.
type Event struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	UserHash  string          `json:"user_hash"`
	RequestID string          `json:"request_id,omitempty"`
	Version   int             `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// RequestCompleted is the payload of TypeRequestCompleted.
type RequestCompleted struct {
	RequestType string `json:"request_type"`
	Status      string `json:"status"`
	FailureKind string `json:"failure_kind,omitempty"`
	NumResults  int    `json:"num_results"`
	SheetURL    string `json:"sheet_url,omitempty"`
	Iterations  int    `json:"iterations"`
	DurationMS  int64  `json:"duration_ms"`
}

// NewEvent creates an event with a generated id and the current time.
func NewEvent(eventType, userHash string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		UserHash:  userHash,
		Version:   1,
		Timestamp: time.Now().UTC(),
		Source:    Source,
		Data:      raw,
	}, nil
}

// WithRequestID sets the request id.
func (e *Event) WithRequestID(id string) *Event {
	e.RequestID = id
	return e
}

// UnmarshalData decodes the payload into target.
func (e *Event) UnmarshalData(target any) error {
	return json.Unmarshal(e.Data, target)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }

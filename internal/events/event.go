// Package events carries domain events about customer queries from the
// service layer to any number of sinks (log, metrics, Redis pub/sub, Kafka).
// Events are published after the originating change has committed.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-query-desk/internal/domain"
)

// Type enumerates supported event identifiers.
type Type string

const (
	QueryCreated Type = "query.created"
	QueryUpdated Type = "query.updated"
	QueryDeleted Type = "query.deleted"
)

// Event is a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	QueryID   string    `json:"query_id"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// CreatedPayload describes a newly triaged query.
type CreatedPayload struct {
	Source   domain.Source   `json:"source"`
	Priority domain.Priority `json:"priority"`
	Tags     []string        `json:"tags"`
}

// Change is one field transition inside an update.
type Change struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// UpdatedPayload lists the fields an update actually changed.
type UpdatedPayload struct {
	Changes []Change `json:"changes"`
}

// DeletedPayload records the status the query had when it was removed.
type DeletedPayload struct {
	Status domain.Status `json:"status"`
}

// New stamps an event with a fresh ID.
func New(t Type, queryID, actor string, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		QueryID:   queryID,
		Actor:     actor,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}

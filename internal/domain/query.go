// Package domain defines the persistence models for customer queries, their
// change history, users and idempotency records. These types are mapped with
// GORM and shared by the repository, service and HTTP layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Defaults applied to a query at creation time.
const (
	DefaultCustomerName = "N/A"
	DefaultAssignee     = "Unassigned"
)

// UnknownPrincipal is recorded in history notes when a change is made
// without an authenticated caller.
const UnknownPrincipal = "System/Unknown"

// Ticket is a customer query tracked through triage and resolution.
//
// Fields:
//   - ID: UUID primary key, assigned once at creation.
//   - Source, Content: set at creation and never edited.
//   - Status, Priority, AssignedTo: mutable through updates, each change
//     appending a HistoryEntry.
//   - Tags: labels attached by the triage classifier at creation.
//   - History: append-only change log, ordered by entry ID.
//   - CreatedAt / UpdatedAt: timestamps managed by the repository/GORM.
//
// Deletion removes the row and its history; there is no soft-delete column.
type Ticket struct {
	// ID is serialized as "_id", the wire name the dashboard client reads.
	ID            string                      `json:"_id"           gorm:"type:char(36);primaryKey"`
	Source        Source                      `json:"source"        gorm:"type:varchar(16);not null;index:idx_queries_source;check:source IN ('Email','Social','Chat','WebForm')"`
	Content       string                      `json:"content"       gorm:"type:text;not null"`
	CustomerName  string                      `json:"customerName"  gorm:"type:varchar(255);not null;default:'N/A'"`
	CustomerEmail string                      `json:"customerEmail,omitempty" gorm:"type:varchar(255)"`
	Status        Status                      `json:"status"        gorm:"type:varchar(16);not null;default:'New';index:idx_queries_status;check:status IN ('New','Open','Pending','Resolved','Closed')"`
	Priority      Priority                    `json:"priority"      gorm:"type:varchar(16);not null;default:'Low';index:idx_queries_priority;check:priority IN ('Low','Medium','High','Urgent')"`
	Tags          datatypes.JSONSlice[string] `json:"tags"`
	AssignedTo    string                      `json:"assignedTo"    gorm:"type:varchar(255);not null;default:'Unassigned'"`
	History       []HistoryEntry              `json:"history"       gorm:"foreignKey:QueryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt     time.Time                   `json:"createdAt"     gorm:"index:idx_queries_created"`
	UpdatedAt     time.Time                   `json:"updatedAt"`
}

// TableName returns the database table name for Ticket.
func (Ticket) TableName() string { return "queries" }

// CanDelete reports whether t may be removed. Only tickets that reached a
// terminal status are deletable.
func CanDelete(t *Ticket) bool {
	if t == nil {
		return false
	}
	return t.Status == StatusResolved || t.Status == StatusClosed
}

// HistoryEntry is one immutable field-level change of a Ticket.
//
// Entries are only inserted, never updated; ID gives their append order.
type HistoryEntry struct {
	ID        uint      `json:"-"         gorm:"primaryKey;autoIncrement"`
	QueryID   string    `json:"-"         gorm:"type:char(36);not null;index:idx_history_query"`
	Timestamp time.Time `json:"timestamp" gorm:"not null"`
	Field     string    `json:"field"     gorm:"type:varchar(32);not null"`
	From      string    `json:"from"      gorm:"column:from_value;type:varchar(255)"`
	To        string    `json:"to"        gorm:"column:to_value;type:varchar(255)"`
	Action    string    `json:"action"    gorm:"type:text;not null"`
	Notes     string    `json:"notes"     gorm:"type:text"`
	Actor     string    `json:"actor"     gorm:"type:varchar(64);not null"`
}

// TableName returns the database table name for HistoryEntry.
func (HistoryEntry) TableName() string { return "query_history" }

// TicketFilter narrows a listing by exact field equality. Empty fields do not
// constrain the result.
type TicketFilter struct {
	Status   Status
	Priority Priority
	Source   Source
}

// Validate reports whether every non-empty field holds a known value.
func (f TicketFilter) Validate() bool {
	return (f.Status == "" || f.Status.Valid()) &&
		(f.Priority == "" || f.Priority.Valid()) &&
		(f.Source == "" || f.Source.Valid())
}

package domain

// Source identifies the channel a query arrived through.
type Source string

const (
	SourceEmail   Source = "Email"
	SourceSocial  Source = "Social"
	SourceChat    Source = "Chat"
	SourceWebForm Source = "WebForm"
)

// Status is the lifecycle state of a query. Any status may move to any other;
// Resolved and Closed only matter for the deletion gate.
type Status string

const (
	StatusNew      Status = "New"
	StatusOpen     Status = "Open"
	StatusPending  Status = "Pending"
	StatusResolved Status = "Resolved"
	StatusClosed   Status = "Closed"
)

// Priority is the urgency assigned by triage or by staff.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

// Role is the permission level of an authenticated user.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleSupport Role = "Support"
	RoleViewer  Role = "Viewer"
)

// Sources, Statuses, Priorities and Roles list the enumerated values in
// declaration order.
var (
	Sources    = []Source{SourceEmail, SourceSocial, SourceChat, SourceWebForm}
	Statuses   = []Status{StatusNew, StatusOpen, StatusPending, StatusResolved, StatusClosed}
	Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
	Roles      = []Role{RoleAdmin, RoleSupport, RoleViewer}
)

// Valid reports whether s is one of the enumerated sources.
func (s Source) Valid() bool { return contains(Sources, s) }

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool { return contains(Statuses, s) }

// Valid reports whether p is one of the enumerated priorities.
func (p Priority) Valid() bool { return contains(Priorities, p) }

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool { return contains(Roles, r) }

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Package services – TicketService
//
// This file implements TicketService, the component that owns the lifecycle
// of customer queries: intake with automatic triage, listing, field updates
// that append history, and the terminal-status deletion gate. Every
// successful mutation is announced through the events dispatcher after it
// has committed.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// carry the query identifier where one applies.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-query-desk/internal/domain"
	"github.com/tbourn/go-query-desk/internal/events"
	"github.com/tbourn/go-query-desk/internal/triage"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// History field names.
const (
	FieldStatus     = "status"
	FieldPriority   = "priority"
	FieldAssignedTo = "assignedTo"
)

// TicketRepo defines the repository contract required by TicketService.
// Every method receives the handle to run on, so the service can pass a
// transaction.
type TicketRepo interface {
	InsertTicket(ctx context.Context, db *gorm.DB, t *domain.Ticket) error
	GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error)
	ListTickets(ctx context.Context, db *gorm.DB, f domain.TicketFilter) ([]domain.Ticket, error)
	UpdateTicketFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any, history []domain.HistoryEntry) error
	DeleteTicket(ctx context.Context, db *gorm.DB, id string) error
	CountTicketsBy(ctx context.Context, db *gorm.DB, column string) (map[string]int64, error)
	TicketsStats(ctx context.Context, db *gorm.DB, f domain.TicketFilter) (int64, *time.Time, error)
}

// Classifier assigns the initial priority and tags of a new query.
type Classifier interface {
	Classify(content string) triage.Result
}

// CreateInput is the intake payload for a new query.
type CreateInput struct {
	Source        domain.Source
	Content       string
	CustomerName  string
	CustomerEmail string
}

// UpdateRequest names the fields an update may change. A nil pointer leaves
// the field alone, as does a pointer to an empty string.
type UpdateRequest struct {
	Status     *domain.Status
	Priority   *domain.Priority
	AssignedTo *string
}

// Stats is the dashboard summary over all queries.
type Stats struct {
	Total      int64            `json:"total"`
	Pending    int64            `json:"pending"`
	Urgent     int64            `json:"urgent"`
	BySource   map[string]int64 `json:"bySource"`
	ByStatus   map[string]int64 `json:"byStatus"`
	ByPriority map[string]int64 `json:"byPriority"`
}

// TicketService coordinates query persistence, triage and events.
type TicketService struct {
	DB         *gorm.DB
	Repo       TicketRepo
	Classifier Classifier
	Events     events.Dispatcher

	// Now is the clock used for timestamps; swappable in tests.
	Now func() time.Time

	// MaxContentRunes rejects larger messages when > 0. Zero, the default,
	// leaves content unbounded; the transport body limit still applies.
	MaxContentRunes int
}

// NewTicketService constructs a TicketService with the default triage rules,
// a no-op dispatcher and the wall clock.
func NewTicketService(db *gorm.DB, r TicketRepo) *TicketService {
	return &TicketService{
		DB:         db,
		Repo:       r,
		Classifier: triage.Default(),
		Events:     events.Nop{},
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *TicketService) tracer() trace.Tracer { return otel.Tracer("services/TicketService") }

func (s *TicketService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *TicketService) publish(ctx context.Context, ev events.Event) {
	if s.Events != nil {
		s.Events.Publish(ctx, ev)
	}
}

// Create validates in, classifies the content and stores a new query with
// status New, assignee Unassigned and an empty history. Content, customer
// name and email are stored exactly as received.
func (s *TicketService) Create(ctx context.Context, in CreateInput, principal string) (*domain.Ticket, error) {
	ctx, span := s.tracer().Start(ctx, "Create",
		trace.WithAttributes(attribute.String("query.source", string(in.Source))),
	)
	defer span.End()

	if !in.Source.Valid() {
		return nil, fmt.Errorf("%w: source must be one of Email, Social, Chat, WebForm", ErrValidation)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(in.Content) > s.MaxContentRunes {
		return nil, fmt.Errorf("%w: content exceeds %d characters", ErrValidation, s.MaxContentRunes)
	}
	name := in.CustomerName
	if strings.TrimSpace(name) == "" {
		name = domain.DefaultCustomerName
	}

	cls := s.Classifier
	if cls == nil {
		cls = triage.Default()
	}
	res := cls.Classify(in.Content)

	now := s.now()
	t := &domain.Ticket{
		ID:            uuid.NewString(),
		Source:        in.Source,
		Content:       in.Content,
		CustomerName:  name,
		CustomerEmail: in.CustomerEmail,
		Status:        domain.StatusNew,
		Priority:      res.Priority,
		Tags:          res.Tags,
		AssignedTo:    domain.DefaultAssignee,
		History:       []domain.HistoryEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.InsertTicket(ctx, s.DB, t); err != nil {
		return nil, fmt.Errorf("insert query: %w", err)
	}
	span.SetAttributes(attribute.String("query.id", t.ID), attribute.String("query.priority", string(t.Priority)))

	s.publish(ctx, events.New(events.QueryCreated, t.ID, actorOf(principal), now, events.CreatedPayload{
		Source:   t.Source,
		Priority: t.Priority,
		Tags:     t.Tags,
	}))
	return t, nil
}

// Get returns one query with its full history.
func (s *TicketService) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	ctx, span := s.tracer().Start(ctx, "Get", trace.WithAttributes(attribute.String("query.id", id)))
	defer span.End()

	id, err := parseID(id)
	if err != nil {
		return nil, err
	}
	t, err := s.Repo.GetTicket(ctx, s.DB, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return t, nil
}

// List returns every query matching f, newest first.
func (s *TicketService) List(ctx context.Context, f domain.TicketFilter) ([]domain.Ticket, error) {
	ctx, span := s.tracer().Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("filter.status", string(f.Status)),
			attribute.String("filter.priority", string(f.Priority)),
			attribute.String("filter.source", string(f.Source)),
		),
	)
	defer span.End()

	if !f.Validate() {
		return nil, fmt.Errorf("%w: unknown filter value", ErrValidation)
	}
	items, err := s.Repo.ListTickets(ctx, s.DB, f)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	if items == nil {
		items = []domain.Ticket{}
	}
	return items, nil
}

// Fingerprint returns the row count and latest update time of the queries
// matching f, for conditional GETs.
func (s *TicketService) Fingerprint(ctx context.Context, f domain.TicketFilter) (int64, *time.Time, error) {
	return s.Repo.TicketsStats(ctx, s.DB, f)
}

// Update applies req to the query. Each field whose value actually changes
// gets one history entry; field writes and history commit together. When
// nothing changes the stored query is returned untouched and no event is
// published. Any status may move to any other status.
func (s *TicketService) Update(ctx context.Context, id string, req UpdateRequest, principal string) (*domain.Ticket, error) {
	ctx, span := s.tracer().Start(ctx, "Update", trace.WithAttributes(attribute.String("query.id", id)))
	defer span.End()

	id, err := parseID(id)
	if err != nil {
		return nil, err
	}
	req = normalizeUpdate(req)
	if req.Status != nil && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *req.Status)
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, *req.Priority)
	}

	actor := actorOf(principal)
	now := s.now()
	var (
		out     *domain.Ticket
		changes []events.Change
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.Repo.GetTicket(ctx, tx, id)
		if err != nil {
			return mapNotFound(err)
		}

		fields := map[string]any{}
		var history []domain.HistoryEntry
		record := func(field, column, from, to, action string) {
			fields[column] = to
			changes = append(changes, events.Change{Field: field, From: from, To: to})
			history = append(history, domain.HistoryEntry{
				QueryID:   id,
				Timestamp: now,
				Field:     field,
				From:      from,
				To:        to,
				Action:    action,
				Notes:     "Changed by User ID: " + actor,
				Actor:     actor,
			})
		}

		if req.Status != nil && *req.Status != cur.Status {
			from, to := string(cur.Status), string(*req.Status)
			record(FieldStatus, "status", from, to, fmt.Sprintf("Status changed from %s to %s.", from, to))
		}
		if req.Priority != nil && *req.Priority != cur.Priority {
			from, to := string(cur.Priority), string(*req.Priority)
			record(FieldPriority, "priority", from, to, fmt.Sprintf("Priority changed from %s to %s.", from, to))
		}
		if req.AssignedTo != nil && *req.AssignedTo != cur.AssignedTo {
			from, to := cur.AssignedTo, *req.AssignedTo
			record(FieldAssignedTo, "assigned_to", from, to, fmt.Sprintf("Assigned from %s to %s.", from, to))
		}

		if len(history) == 0 {
			out = cur
			return nil
		}
		fields["updated_at"] = now
		if err := s.Repo.UpdateTicketFields(ctx, tx, id, fields, history); err != nil {
			return mapNotFound(err)
		}
		out, err = s.Repo.GetTicket(ctx, tx, id)
		return mapNotFound(err)
	})
	if err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update query: %w", err)
	}
	span.SetAttributes(attribute.Int("query.changes", len(changes)))

	if len(changes) > 0 {
		zerolog.Ctx(ctx).Debug().Str("query_id", id).Str("actor", actor).Int("changes", len(changes)).Msg("query updated")
		s.publish(ctx, events.New(events.QueryUpdated, id, actor, now, events.UpdatedPayload{Changes: changes}))
	}
	return out, nil
}

// Delete removes a query and its history. Only Resolved or Closed queries may
// be deleted; the check and the removal run in one transaction.
func (s *TicketService) Delete(ctx context.Context, id, principal string) error {
	ctx, span := s.tracer().Start(ctx, "Delete", trace.WithAttributes(attribute.String("query.id", id)))
	defer span.End()

	id, err := parseID(id)
	if err != nil {
		return err
	}
	var status domain.Status
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.Repo.GetTicket(ctx, tx, id)
		if err != nil {
			return mapNotFound(err)
		}
		if !domain.CanDelete(cur) {
			zerolog.Ctx(ctx).Info().Str("query_id", id).Str("status", string(cur.Status)).Msg("delete refused")
			return ErrDeleteNotPermitted
		}
		status = cur.Status
		return mapNotFound(s.Repo.DeleteTicket(ctx, tx, id))
	})
	if err != nil {
		if isDomainErr(err) {
			return err
		}
		return fmt.Errorf("delete query: %w", err)
	}

	s.publish(ctx, events.New(events.QueryDeleted, id, actorOf(principal), s.now(), events.DeletedPayload{Status: status}))
	return nil
}

// Stats summarizes all queries for the dashboard cards: total, pending
// (New or Open), urgent (Urgent or High) and per-value counts. Every enum
// value appears in the maps, zero when absent.
func (s *TicketService) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := s.tracer().Start(ctx, "Stats")
	defer span.End()

	bySource, err := s.Repo.CountTicketsBy(ctx, s.DB, "source")
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	byStatus, err := s.Repo.CountTicketsBy(ctx, s.DB, "status")
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	byPriority, err := s.Repo.CountTicketsBy(ctx, s.DB, "priority")
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	st := &Stats{
		BySource:   fill(bySource, domain.Sources),
		ByStatus:   fill(byStatus, domain.Statuses),
		ByPriority: fill(byPriority, domain.Priorities),
	}
	for _, n := range st.ByStatus {
		st.Total += n
	}
	st.Pending = st.ByStatus[string(domain.StatusNew)] + st.ByStatus[string(domain.StatusOpen)]
	st.Urgent = st.ByPriority[string(domain.PriorityUrgent)] + st.ByPriority[string(domain.PriorityHigh)]
	return st, nil
}

func fill[T ~string](counts map[string]int64, keys []T) map[string]int64 {
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		out[string(k)] = counts[string(k)]
	}
	return out
}

// parseID accepts any form uuid.Parse accepts and returns the canonical one.
func parseID(id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", ErrInvalidID
	}
	return u.String(), nil
}

func normalizeUpdate(req UpdateRequest) UpdateRequest {
	if req.Status != nil && strings.TrimSpace(string(*req.Status)) == "" {
		req.Status = nil
	}
	if req.Priority != nil && strings.TrimSpace(string(*req.Priority)) == "" {
		req.Priority = nil
	}
	if req.AssignedTo != nil && strings.TrimSpace(*req.AssignedTo) == "" {
		req.AssignedTo = nil
	}
	return req
}

func actorOf(principal string) string {
	if p := strings.TrimSpace(principal); p != "" {
		return p
	}
	return domain.UnknownPrincipal
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrQueryNotFound
	}
	return err
}

func isDomainErr(err error) bool {
	return errors.Is(err, ErrQueryNotFound) ||
		errors.Is(err, ErrDeleteNotPermitted) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID)
}

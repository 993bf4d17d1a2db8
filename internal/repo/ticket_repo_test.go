package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-query-desk/internal/domain"
)

func newTicketDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newTestDB(t, &domain.Ticket{}, &domain.HistoryEntry{})
}

func seedTicket(t *testing.T, db *gorm.DB, id string, src domain.Source, st domain.Status, pr domain.Priority, created time.Time) *domain.Ticket {
	t.Helper()
	q := &domain.Ticket{
		ID:           id,
		Source:       src,
		Content:      "content " + id,
		CustomerName: domain.DefaultCustomerName,
		Status:       st,
		Priority:     pr,
		AssignedTo:   domain.DefaultAssignee,
		Tags:         []string{},
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if err := InsertTicket(context.Background(), db, q); err != nil {
		t.Fatalf("InsertTicket(%s): %v", id, err)
	}
	return q
}

func TestInsertTicket_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	err := InsertTicket(context.Background(), db, &domain.Ticket{Source: domain.SourceChat, Content: "x"})
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
}

func TestInsertTicket_FillsIDTimestampsAndTags(t *testing.T) {
	db := newTicketDB(t)
	q := &domain.Ticket{
		Source:       domain.SourceWebForm,
		Content:      "billing bug",
		CustomerName: "Ann",
		Status:       domain.StatusNew,
		Priority:     domain.PriorityLow,
		AssignedTo:   domain.DefaultAssignee,
	}
	before := time.Now().UTC().Add(-time.Second)
	if err := InsertTicket(context.Background(), db, q); err != nil {
		t.Fatalf("InsertTicket: %v", err)
	}
	if len(q.ID) != 36 {
		t.Fatalf("expected UUID id, got %q", q.ID)
	}
	if q.CreatedAt.Before(before) || !q.UpdatedAt.Equal(q.CreatedAt) {
		t.Fatalf("timestamps not set: %+v", q)
	}
	got, err := GetTicket(context.Background(), db, q.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Fatalf("expected empty non-nil tags, got %#v", got.Tags)
	}
	if got.CustomerName != "Ann" || got.Content != "billing bug" {
		t.Fatalf("unexpected ticket: %+v", got)
	}
}

func TestGetTicket_FoundWithOrderedHistory_AndNotFound(t *testing.T) {
	db := newTicketDB(t)
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	seedTicket(t, db, "q1", domain.SourceEmail, domain.StatusNew, domain.PriorityLow, now)

	err := UpdateTicketFields(ctx, db, "q1",
		map[string]any{"status": domain.StatusOpen},
		[]domain.HistoryEntry{{Timestamp: now, Field: "status", From: "New", To: "Open", Action: "first", Actor: "u"}})
	if err != nil {
		t.Fatalf("update 1: %v", err)
	}
	err = UpdateTicketFields(ctx, db, "q1",
		map[string]any{"priority": domain.PriorityHigh},
		[]domain.HistoryEntry{{Timestamp: now, Field: "priority", From: "Low", To: "High", Action: "second", Actor: "u"}})
	if err != nil {
		t.Fatalf("update 2: %v", err)
	}

	got, err := GetTicket(ctx, db, "q1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != domain.StatusOpen || got.Priority != domain.PriorityHigh {
		t.Fatalf("fields not updated: %+v", got)
	}
	if len(got.History) != 2 || got.History[0].Action != "first" || got.History[1].Action != "second" {
		t.Fatalf("history not in append order: %+v", got.History)
	}
	if got.History[0].QueryID != "q1" {
		t.Fatalf("history query id not set: %+v", got.History[0])
	}

	if _, err := GetTicket(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTickets_NewestFirstAndFilters(t *testing.T) {
	db := newTicketDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedTicket(t, db, "t1", domain.SourceEmail, domain.StatusNew, domain.PriorityLow, base)
	seedTicket(t, db, "t2", domain.SourceChat, domain.StatusOpen, domain.PriorityUrgent, base.Add(time.Minute))
	seedTicket(t, db, "t3", domain.SourceEmail, domain.StatusClosed, domain.PriorityUrgent, base.Add(2*time.Minute))

	all, err := ListTickets(ctx, db, domain.TicketFilter{})
	if err != nil {
		t.Fatalf("ListTickets: %v", err)
	}
	if ids := ticketIDs(all); !reflect.DeepEqual(ids, []string{"t3", "t2", "t1"}) {
		t.Fatalf("order = %v; want [t3 t2 t1]", ids)
	}

	email, _ := ListTickets(ctx, db, domain.TicketFilter{Source: domain.SourceEmail})
	if ids := ticketIDs(email); !reflect.DeepEqual(ids, []string{"t3", "t1"}) {
		t.Fatalf("source filter = %v", ids)
	}
	urgentOpen, _ := ListTickets(ctx, db, domain.TicketFilter{Priority: domain.PriorityUrgent, Status: domain.StatusOpen})
	if ids := ticketIDs(urgentOpen); !reflect.DeepEqual(ids, []string{"t2"}) {
		t.Fatalf("combined filter = %v", ids)
	}

	n, err := CountTickets(ctx, db, domain.TicketFilter{Priority: domain.PriorityUrgent})
	if err != nil || n != 2 {
		t.Fatalf("CountTickets = %d, %v; want 2", n, err)
	}
}

func TestListTickets_Empty(t *testing.T) {
	db := newTicketDB(t)
	got, err := ListTickets(context.Background(), db, domain.TicketFilter{})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %v, %v", got, err)
	}
}

func TestUpdateTicketFields_NotFound_WritesNoHistory(t *testing.T) {
	db := newTicketDB(t)
	ctx := context.Background()
	err := UpdateTicketFields(ctx, db, "nope",
		map[string]any{"status": domain.StatusOpen},
		[]domain.HistoryEntry{{Timestamp: time.Now(), Field: "status", Action: "x", Actor: "u"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var n int64
	db.Model(&domain.HistoryEntry{}).Count(&n)
	if n != 0 {
		t.Fatalf("history must roll back, found %d rows", n)
	}
}

func TestUpdateTicketFields_RollsBackOnHistoryError(t *testing.T) {
	db := newTestDB(t, &domain.Ticket{}) // no history table -> insert fails
	ctx := context.Background()
	seedTicket(t, db, "q1", domain.SourceChat, domain.StatusNew, domain.PriorityLow, time.Now().UTC())

	err := UpdateTicketFields(ctx, db, "q1",
		map[string]any{"status": domain.StatusOpen},
		[]domain.HistoryEntry{{Timestamp: time.Now(), Field: "status", Action: "x", Actor: "u"}})
	if err == nil {
		t.Fatalf("expected error from history insert")
	}
	var got domain.Ticket
	if err := db.First(&got, "id = ?", "q1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Status != domain.StatusNew {
		t.Fatalf("status change must roll back, got %s", got.Status)
	}
}

func TestDeleteTicket_RemovesRowAndHistory(t *testing.T) {
	db := newTicketDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedTicket(t, db, "q1", domain.SourceChat, domain.StatusResolved, domain.PriorityLow, now)
	seedTicket(t, db, "q2", domain.SourceChat, domain.StatusNew, domain.PriorityLow, now)
	for _, id := range []string{"q1", "q2"} {
		if err := UpdateTicketFields(ctx, db, id, map[string]any{"assigned_to": "bob"},
			[]domain.HistoryEntry{{Timestamp: now, Field: "assignedTo", Action: "a", Actor: "u"}}); err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}

	if err := DeleteTicket(ctx, db, "q1"); err != nil {
		t.Fatalf("DeleteTicket: %v", err)
	}
	if _, err := GetTicket(ctx, db, "q1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	var n int64
	db.Model(&domain.HistoryEntry{}).Where("query_id = ?", "q1").Count(&n)
	if n != 0 {
		t.Fatalf("history of deleted ticket remains: %d", n)
	}
	db.Model(&domain.HistoryEntry{}).Where("query_id = ?", "q2").Count(&n)
	if n != 1 {
		t.Fatalf("history of other ticket touched: %d", n)
	}

	if err := DeleteTicket(ctx, db, "q1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestCountTicketsBy(t *testing.T) {
	db := newTicketDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedTicket(t, db, "a", domain.SourceEmail, domain.StatusNew, domain.PriorityLow, now)
	seedTicket(t, db, "b", domain.SourceEmail, domain.StatusOpen, domain.PriorityHigh, now)
	seedTicket(t, db, "c", domain.SourceSocial, domain.StatusOpen, domain.PriorityHigh, now)

	bySource, err := CountTicketsBy(ctx, db, "source")
	if err != nil {
		t.Fatalf("CountTicketsBy: %v", err)
	}
	if !reflect.DeepEqual(bySource, map[string]int64{"Email": 2, "Social": 1}) {
		t.Fatalf("by source = %v", bySource)
	}
	byStatus, _ := CountTicketsBy(ctx, db, "status")
	if byStatus["Open"] != 2 || byStatus["New"] != 1 {
		t.Fatalf("by status = %v", byStatus)
	}
	if _, err := CountTicketsBy(ctx, db, "content; DROP TABLE queries"); err == nil {
		t.Fatalf("expected error for non-groupable column")
	}
}

func ticketIDs(ts []domain.Ticket) []string {
	out := make([]string, 0, len(ts))
	for _, q := range ts {
		out = append(out, q.ID)
	}
	return out
}

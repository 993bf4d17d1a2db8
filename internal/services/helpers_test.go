package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-query-desk/internal/domain"
	"github.com/tbourn/go-query-desk/internal/events"
	"github.com/tbourn/go-query-desk/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// ticketRepo adapts the repo free functions to TicketRepo.
type ticketRepo struct{}

func (ticketRepo) InsertTicket(ctx context.Context, db *gorm.DB, t *domain.Ticket) error {
	return repo.InsertTicket(ctx, db, t)
}
func (ticketRepo) GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	return repo.GetTicket(ctx, db, id)
}
func (ticketRepo) ListTickets(ctx context.Context, db *gorm.DB, f domain.TicketFilter) ([]domain.Ticket, error) {
	return repo.ListTickets(ctx, db, f)
}
func (ticketRepo) UpdateTicketFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any, h []domain.HistoryEntry) error {
	return repo.UpdateTicketFields(ctx, db, id, fields, h)
}
func (ticketRepo) DeleteTicket(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteTicket(ctx, db, id)
}
func (ticketRepo) CountTicketsBy(ctx context.Context, db *gorm.DB, column string) (map[string]int64, error) {
	return repo.CountTicketsBy(ctx, db, column)
}
func (ticketRepo) TicketsStats(ctx context.Context, db *gorm.DB, f domain.TicketFilter) (int64, *time.Time, error) {
	return repo.TicketsStats(ctx, db, f)
}

// userRepo adapts the repo free functions to UserRepo.
type userRepo struct{}

func (userRepo) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}
func (userRepo) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}
func (r *recorder) SubscribeAll(events.Handler) {}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// steppingClock returns start, start+step, start+2*step, ...
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start.Add(-step)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(step)
		return cur
	}
}

func statusPtr(s domain.Status) *domain.Status       { return &s }
func priorityPtr(p domain.Priority) *domain.Priority { return &p }
func strPtr(s string) *string                        { return &s }

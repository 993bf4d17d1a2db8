// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Ticket
// aggregate and its append-only history.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// carry no business rules: validation, the deletion gate and history
// composition live in services.TicketService.
//
// Error semantics:
//   - When a ticket is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-query-desk/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// InsertTicket persists t without its history. A missing ID is filled with a
// random UUID and zero timestamps with the current UTC time.
func InsertTicket(ctx context.Context, db *gorm.DB, t *domain.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return db.WithContext(ctx).Omit(clause.Associations).Create(t).Error
}

// GetTicket fetches a ticket by ID with its history in append order, or
// ErrNotFound.
func GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	var t domain.Ticket
	err := db.WithContext(ctx).
		Preload("History", orderHistory).
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets returns every ticket matching f, newest first, each with its
// history preloaded. There is no pagination.
func ListTickets(ctx context.Context, db *gorm.DB, f domain.TicketFilter) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := applyFilter(db.WithContext(ctx), f).
		Preload("History", orderHistory).
		Order("created_at DESC").
		Order("id DESC").
		Find(&out).Error
	return out, err
}

// CountTickets returns the number of tickets matching f.
func CountTickets(ctx context.Context, db *gorm.DB, f domain.TicketFilter) (int64, error) {
	var n int64
	err := applyFilter(db.WithContext(ctx).Model(&domain.Ticket{}), f).Count(&n).Error
	return n, err
}

// UpdateTicketFields applies column updates to a ticket and appends history
// entries in one transaction. When db is already a transaction the work runs
// in a savepoint. Returns ErrNotFound if no row has the given id.
func UpdateTicketFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any, history []domain.HistoryEntry) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Ticket{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if len(history) == 0 {
			return nil
		}
		for i := range history {
			history[i].QueryID = id
		}
		return tx.Create(&history).Error
	})
}

// DeleteTicket removes a ticket and all of its history rows. Returns
// ErrNotFound if no row has the given id.
func DeleteTicket(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("query_id = ?", id).Delete(&domain.HistoryEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Ticket{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CountTicketsBy groups tickets by one of the enum columns (status, priority,
// source) and returns the count per value.
func CountTicketsBy(ctx context.Context, db *gorm.DB, column string) (map[string]int64, error) {
	switch column {
	case "status", "priority", "source":
	default:
		return nil, fmt.Errorf("repo: cannot group tickets by %q", column)
	}
	var rows []struct {
		Value string
		N     int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Select(column + " AS value, COUNT(*) AS n").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Value] = r.N
	}
	return out, nil
}

func applyFilter(q *gorm.DB, f domain.TicketFilter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	return q
}

func orderHistory(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }

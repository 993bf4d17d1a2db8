package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-query-desk/internal/domain"
)

func TestCreateUser_AndLookups(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()

	u := &domain.User{Name: "Ann", Email: "  Ann@Example.COM ", PasswordHash: "h", Role: domain.RoleSupport}
	if err := CreateUser(ctx, db, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Email != "ann@example.com" || u.CreatedAt.IsZero() {
		t.Fatalf("unexpected user: %+v", u)
	}

	byEmail, err := GetUserByEmail(ctx, db, "ANN@example.com")
	if err != nil || byEmail.ID != u.ID || byEmail.Role != domain.RoleSupport {
		t.Fatalf("GetUserByEmail = %+v, %v", byEmail, err)
	}

	if _, err := GetUserByEmail(ctx, db, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()
	if err := CreateUser(ctx, db, &domain.User{Name: "a", Email: "x@y.z", PasswordHash: "h", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("first: %v", err)
	}
	err := CreateUser(ctx, db, &domain.User{Name: "b", Email: "X@Y.Z", PasswordHash: "h", Role: domain.RoleViewer})
	if err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

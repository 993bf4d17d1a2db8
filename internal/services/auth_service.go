// Package services – AuthService
//
// This file implements registration and login for dashboard users. Passwords
// are stored as bcrypt hashes; a successful login yields a signed bearer
// token carrying the user ID and role.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/tbourn/go-query-desk/internal/auth"
	"github.com/tbourn/go-query-desk/internal/domain"
	"github.com/tbourn/go-query-desk/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// UserRepo defines the repository contract required by AuthService.
type UserRepo interface {
	CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error
	GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error)
}

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	GenerateToken(userID string, role domain.Role) (string, time.Time, error)
}

// RegisterInput is the sign-up payload.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// Session is the result of a successful login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// AuthService registers users and exchanges credentials for tokens.
type AuthService struct {
	DB     *gorm.DB
	Repo   UserRepo
	Tokens TokenIssuer

	// BcryptCost is the work factor for new password hashes.
	BcryptCost int
	// MinPasswordLen rejects shorter passwords at registration.
	MinPasswordLen int
}

// validate runs the same rules gin applies to request bodies, for callers
// that reach the service without going through binding.
var validate = validator.New()

// NewAuthService constructs an AuthService.
func NewAuthService(db *gorm.DB, r UserRepo, tokens TokenIssuer, bcryptCost int) *AuthService {
	return &AuthService{DB: db, Repo: r, Tokens: tokens, BcryptCost: bcryptCost, MinPasswordLen: 6}
}

// Register creates a user. An empty role becomes Support.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Register")
	defer span.End()

	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: email is invalid", ErrValidation)
	}
	if err := auth.CheckPasswordLength(in.Password, s.MinPasswordLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	role := in.Role
	if role == "" {
		role = domain.RoleSupport
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	hash, err := auth.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &domain.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := s.Repo.CreateUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, nil
}

// Login verifies credentials and issues a token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Login")
	defer span.End()

	u, err := s.Repo.GetUserByEmail(ctx, s.DB, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := auth.ComparePassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	tok, exp, err := s.Tokens.GenerateToken(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", u.ID), attribute.String("user.role", string(u.Role)))
	return &Session{Token: tok, ExpiresAt: exp, User: u}, nil
}

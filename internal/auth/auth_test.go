package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbourn/go-query-desk/internal/domain"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 30*time.Minute)
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return fixed }

	tok, exp, err := tm.GenerateToken("u-1", domain.RoleSupport)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !exp.Equal(fixed.Add(30 * time.Minute)) {
		t.Fatalf("expiry = %v", exp)
	}

	claims, err := tm.ParseToken(tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID() != "u-1" || claims.Role != domain.RoleSupport {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewTokenManager_DefaultTTL(t *testing.T) {
	tm := NewTokenManager("s", 0)
	if tm.ttl != time.Hour {
		t.Fatalf("ttl = %v; want 1h", tm.ttl)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute)
	issued := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return issued }
	tok, _, err := tm.GenerateToken("u-1", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	t.Run("expired", func(t *testing.T) {
		later := NewTokenManager("secret", time.Minute)
		later.now = func() time.Time { return issued.Add(2 * time.Minute) }
		if _, err := later.ParseToken(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("other", time.Minute)
		other.now = tm.now
		if _, err := other.ParseToken(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := tm.ParseToken("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("unsupported alg", func(t *testing.T) {
		c := &Claims{Role: domain.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Minute)),
		}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS512, c).SignedString([]byte("secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := tm.ParseToken(s); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		c := &Claims{Role: domain.Role("Root"), RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Minute)),
		}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := tm.ParseToken(s); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("missing expiry", func(t *testing.T) {
		c := &Claims{Role: domain.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := tm.ParseToken(s); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestPasswordHashing(t *testing.T) {
	h, err := HashPassword("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h == "hunter2" {
		t.Fatalf("hash must not equal plaintext")
	}
	if err := ComparePassword(h, "hunter2"); err != nil {
		t.Fatalf("ComparePassword(correct): %v", err)
	}
	if err := ComparePassword(h, "wrong"); err == nil {
		t.Fatalf("ComparePassword(wrong) should fail")
	}
	if _, err := HashPassword("x", bcrypt.MaxCost+1); err == nil {
		t.Fatalf("expected error for invalid cost")
	}
}

func TestCheckPasswordLength(t *testing.T) {
	cases := []struct {
		pw string
		ok bool
	}{
		{"12345", false},
		{"123456", true},
		{strings.Repeat("p", MaxPasswordBytes), true},
		{strings.Repeat("p", MaxPasswordBytes+1), false},
		// 36 two-byte runes is 72 bytes; one more crosses the bcrypt limit.
		{strings.Repeat("é", 36), true},
		{strings.Repeat("é", 37), false},
	}
	for _, tc := range cases {
		err := CheckPasswordLength(tc.pw, 6)
		if tc.ok && err != nil {
			t.Fatalf("len %d: unexpected %v", len(tc.pw), err)
		}
		if !tc.ok && !errors.Is(err, ErrPasswordLength) {
			t.Fatalf("len %d: expected ErrPasswordLength, got %v", len(tc.pw), err)
		}
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	if _, err := HashPassword(strings.Repeat("p", 80), bcrypt.MinCost); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("expected ErrPasswordLength, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("p", MaxPasswordBytes), bcrypt.MinCost); err != nil {
		t.Fatalf("72 bytes must hash: %v", err)
	}
}

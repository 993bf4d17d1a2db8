// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the calling principal from a bearer JWT and enforces
// role-based access on write routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tbourn/go-query-desk/internal/auth"
	"github.com/tbourn/go-query-desk/internal/domain"
)

// HeaderAuthToken is the legacy header some clients still send the raw token in.
const HeaderAuthToken = "x-auth-token"

const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "role"
)

// TokenParser verifies a token and returns its claims.
type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

// Authenticate resolves the principal of the request.
//
// The token is read from "Authorization: Bearer <t>" and, failing that, from
// the x-auth-token header. A valid token stores "userID" and "role" in the Gin
// context. A present but invalid token is rejected with 401. A missing token is
// rejected only when required is true; otherwise the request proceeds
// anonymously.
func Authenticate(tokens TokenParser, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present := bearerToken(c.Request)
		if !present {
			if required {
				authFailures.WithLabelValues("missing").Inc()
				abortAuth(c, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			c.Next()
			return
		}

		claims, err := tokens.ParseToken(raw)
		if err != nil {
			authFailures.WithLabelValues("invalid").Inc()
			LoggerFrom(c).Debug().Err(err).Msg("token rejected")
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}

		c.Set(ctxKeyUserID, claims.UserID())
		c.Set(ctxKeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects authenticated principals that hold none of roles with
// 403. Anonymous requests pass through; whether they are allowed at all is
// decided by Authenticate, and the services record them as System/Unknown.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.Next()
			return
		}
		if _, ok := allowed[Role(c)]; !ok {
			authFailures.WithLabelValues("forbidden").Inc()
			abortAuth(c, http.StatusForbidden, "forbidden", "insufficient role")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// Role returns the authenticated role, or "" for anonymous requests.
func Role(c *gin.Context) domain.Role {
	v, ok := c.Get(ctxKeyRole)
	if !ok {
		return ""
	}
	r, _ := v.(domain.Role)
	return r
}

// bearerToken extracts the raw token. present is false when neither header
// carries a value.
func bearerToken(r *http.Request) (token string, present bool) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, rest, _ := strings.Cut(h, " ")
		if strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest), true
		}
		// Unknown scheme still counts as an (invalid) credential.
		return "", true
	}
	if t := strings.TrimSpace(r.Header.Get(HeaderAuthToken)); t != "" {
		return t, true
	}
	return "", false
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}

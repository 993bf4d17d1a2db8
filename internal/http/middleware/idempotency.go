// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key handling for query intake. It validates
// the header, asks a pluggable lookup whether the same caller already completed
// the same scoped operation with that key, and annotates the request context so
// downstream handlers can:
//   - read the normalized key (GetIdempotencyKey) and scope (IdempotencyScope)
//   - detect replayed requests (IsReplay)
//   - bypass rate limiting when a replay is served
//
// Persistence stays behind the IdempotencyLookup function type.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients use to make query
// submissions safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// AnonymousCaller owns idempotency records and rate-limit buckets for requests
// that carry no verified identity.
const AnonymousCaller = "anonymous"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored record exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IdempotencyScope returns the operation scope resolved for this request, or
// "" when the route does not participate in idempotency.
func IdempotencyScope(c *gin.Context) string {
	return c.GetString(ctxKeyIdemScope)
}

// IsReplay reports whether a completed operation already exists for this
// caller, scope and key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator. TTL enforcement belongs
// to the lookup.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
	// Scope maps a request to the operation it performs (e.g. "queries" for
	// query intake). Requests that resolve to "" are passed through untouched,
	// even when they carry the header. A nil Scope disables the middleware.
	Scope func(*gin.Context) string
}

// IdempotencyLookup answers whether an unexpired record exists for
// (userID, scope, key) at the given time. Errors are treated as "not found"
// so a storage hiccup never blocks intake.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header on scoped routes,
// stashes it in the request context, and consults lookup for a prior result.
//
// Behavior:
//   - Route without scope, or header absent: no-op.
//   - Header fails validation: 400 bad_idempotency_key.
//   - Lookup reports an existing record: replay and rate-bypass flags are set.
//
// Handlers stay in control of how replays are served.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		if opts.Scope == nil {
			c.Next()
			return
		}
		scope := opts.Scope(c)
		key := c.GetHeader(HeaderIdempotencyKey)
		if scope == "" || key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		if lookup != nil {
			now := time.Now().UTC()
			if exists, err := lookup(c.Request.Context(), CallerID(c), scope, key, now); err == nil && exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// CallerID returns the authenticated user id, or AnonymousCaller when the
// request carries no verified identity.
func CallerID(c *gin.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return AnonymousCaller
}

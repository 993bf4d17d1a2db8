// Query HTTP handlers.
//
// This file exposes REST endpoints for customer queries:
//   - GET    /queries          (list, filters, weak ETag)
//   - GET    /queries/stats    (dashboard counters)
//   - GET    /queries/{id}     (one query with history)
//   - POST   /queries          (intake with triage, Idempotency-Key replay)
//   - PUT    /queries/{id}     (status/priority/assignee changes)
//   - DELETE /queries/{id}     (only Resolved or Closed)
//
// Handlers are transport-thin: they bind input, call the services, and map
// service errors to status codes.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-query-desk/internal/domain"
	"github.com/tbourn/go-query-desk/internal/http/middleware"
	"github.com/tbourn/go-query-desk/internal/services"
)

//
// Service contracts (context-aware)
//

// QueryService defines the query lifecycle operations consumed by handlers.
type QueryService interface {
	Create(ctx context.Context, in services.CreateInput, principal string) (*domain.Ticket, error)
	Get(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, f domain.TicketFilter) ([]domain.Ticket, error)
	// Fingerprint returns count and latest update of the matching rows.
	Fingerprint(ctx context.Context, f domain.TicketFilter) (int64, *time.Time, error)
	Update(ctx context.Context, id string, req services.UpdateRequest, principal string) (*domain.Ticket, error)
	Delete(ctx context.Context, id, principal string) error
	Stats(ctx context.Context) (*services.Stats, error)
}

// AuthService defines registration and login.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
}

// IdempotencyStore remembers which resource a (caller, scope, key) produced.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scope, key string) (resourceID string, found bool, err error)
	Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. idem may be nil, which disables replay.
type Handlers struct {
	queries QueryService
	auth    AuthService
	idem    IdempotencyStore
}

// New constructs and returns a Handlers instance bound to the given services.
func New(queries QueryService, auth AuthService, idem IdempotencyStore) *Handlers {
	return &Handlers{queries: queries, auth: auth, idem: idem}
}

// principal is the acting user id, "" when anonymous. The service records
// anonymous changes as System/Unknown.
func principal(c *gin.Context) string {
	return middleware.UserID(c)
}

//
// DTOs
//

// CreateQueryRequest is the JSON payload for submitting a customer query.
// Content has no length bound beyond the request body limit.
type CreateQueryRequest struct {
	Source        domain.Source `json:"source" binding:"required,oneof=Email Social Chat WebForm" example:"Email" enums:"Email,Social,Chat,WebForm"`
	Content       string        `json:"content" binding:"required" example:"I was charged twice, please refund ASAP"`
	CustomerName  string        `json:"customerName" example:"Jane Doe"`
	CustomerEmail string        `json:"customerEmail" example:"jane@example.com"`
}

// UpdateQueryRequest is the JSON payload for changing a query. Omitted or
// empty fields are left as they are.
type UpdateQueryRequest struct {
	Status     *domain.Status   `json:"status,omitempty" example:"Open" enums:"New,Open,Pending,Resolved,Closed"`
	Priority   *domain.Priority `json:"priority,omitempty" example:"High" enums:"Low,Medium,High,Urgent"`
	AssignedTo *string          `json:"assignedTo,omitempty" example:"agent-7"`
}

//
// Helpers
//

// failQuery maps service errors to responses; op is the code used when the
// failure is a persistence error.
func failQuery(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, services.ErrInvalidID):
		fail(c, http.StatusBadRequest, ErrCodeInvalidID, "query id must be a UUID")
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrQueryNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "query not found")
	case errors.Is(err, services.ErrDeleteNotPermitted):
		fail(c, http.StatusConflict, ErrCodeDeleteNotPermitted, err.Error())
	default:
		failInternal(c, op, err)
	}
}

func filterFromQuery(c *gin.Context) domain.TicketFilter {
	return domain.TicketFilter{
		Status:   domain.Status(strings.TrimSpace(c.Query("status"))),
		Priority: domain.Priority(strings.TrimSpace(c.Query("priority"))),
		Source:   domain.Source(strings.TrimSpace(c.Query("source"))),
	}
}

// listETag derives a weak validator from the filter and the fingerprint of
// the rows it selects. Any insert, update or delete changes count or time.
func listETag(f domain.TicketFilter, count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixMilli()
	}
	return fmt.Sprintf(`W/"queries:%s|%s|%s:%d:%d"`, f.Status, f.Priority, f.Source, count, ts)
}

//
// Handlers
//

// ListQueries godoc
// @ID          listQueries
// @Summary     List queries
// @Description Returns all queries, newest first, optionally filtered by exact status, priority and source.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Queries
// @Produce     json
//
// @Param       status         query   string  false "Filter by status"    Enums(New,Open,Pending,Resolved,Closed)
// @Param       priority       query   string  false "Filter by priority"  Enums(Low,Medium,High,Urgent)
// @Param       source         query   string  false "Filter by source"    Enums(Email,Social,Chat,WebForm)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {array}  domain.Ticket
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Unknown filter value"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /queries [get]
func (h *Handlers) ListQueries(c *gin.Context) {
	ctx := c.Request.Context()
	f := filterFromQuery(c)
	if !f.Validate() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown filter value")
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.queries.Fingerprint(ctx, f); err == nil {
		etag := listETag(f, count, maxTS)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := h.queries.List(ctx, f)
	if err != nil {
		failQuery(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, items)
}

// QueryStats godoc
// @ID          queryStats
// @Summary     Query statistics
// @Description Totals for the dashboard: all, pending (New or Open), urgent (Urgent or High), and per source, status and priority.
// @Tags        Queries
// @Produce     json
// @Success     200  {object} services.Stats
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /queries/stats [get]
func (h *Handlers) QueryStats(c *gin.Context) {
	st, err := h.queries.Stats(c.Request.Context())
	if err != nil {
		failQuery(c, err, ErrCodeStatsFailed)
		return
	}
	ok(c, http.StatusOK, st)
}

// GetQuery godoc
// @ID          getQuery
// @Summary     Get a query
// @Description Returns one query including its change history.
// @Tags        Queries
// @Produce     json
// @Param       id   path  string  true  "Query ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Ticket
// @Failure     400  {object} handlers.ErrorResponse "Invalid id"
// @Failure     404  {object} handlers.ErrorResponse "Query not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /queries/{id} [get]
func (h *Handlers) GetQuery(c *gin.Context) {
	t, err := h.queries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failQuery(c, err, ErrCodeGetFailed)
		return
	}
	ok(c, http.StatusOK, t)
}

// CreateQuery godoc
// @ID          createQuery
// @Summary     Submit a customer query
// @Description Stores a new query with status New; priority and tags come from the triage rules.
// @Description With an Idempotency-Key, a retry returns the query created by the first attempt (200, Idempotency-Replayed: true).
// @Tags        Queries
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateQueryRequest  true  "Query payload"
//
// @Success     201  {object}  domain.Ticket
// @Success     200  {object}  domain.Ticket  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /queries [post]
func (h *Handlers) CreateQuery(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required; source must be one of Email, Social, Chat, WebForm")
		return
	}

	key, hasKey := middleware.GetIdempotencyKey(c)
	scope := middleware.IdempotencyScope(c)
	caller := middleware.CallerID(c)
	useIdem := hasKey && scope != "" && h.idem != nil

	if useIdem {
		if id, found, err := h.idem.Lookup(ctx, caller, scope, key); err == nil && found {
			if prev, err := h.queries.Get(ctx, id); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	t, err := h.queries.Create(ctx, services.CreateInput{
		Source:        req.Source,
		Content:       req.Content,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
	}, principal(c))
	if err != nil {
		failQuery(c, err, ErrCodeCreateFailed)
		return
	}

	if useIdem {
		if err := h.idem.Remember(ctx, caller, scope, key, t.ID, http.StatusCreated); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("query_id", t.ID).Msg("idempotency record not stored")
		}
	}

	c.Header("Location", strings.TrimSuffix(c.Request.URL.Path, "/")+"/"+t.ID)
	ok(c, http.StatusCreated, t)
}

// UpdateQuery godoc
// @ID          updateQuery
// @Summary     Update a query
// @Description Changes status, priority and/or assignee. Each field that actually changes appends one history entry.
// @Description Sending current values is a no-op that returns the query unchanged.
// @Tags        Queries
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Query ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateQueryRequest  true  "Fields to change"
//
// @Success     200  {object} domain.Ticket
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthenticated"
// @Failure     403  {object} handlers.ErrorResponse "Role not allowed"
// @Failure     404  {object} handlers.ErrorResponse "Query not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /queries/{id} [put]
func (h *Handlers) UpdateQuery(c *gin.Context) {
	var req UpdateQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	t, err := h.queries.Update(c.Request.Context(), c.Param("id"), services.UpdateRequest{
		Status:     req.Status,
		Priority:   req.Priority,
		AssignedTo: req.AssignedTo,
	}, principal(c))
	if err != nil {
		failQuery(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, t)
}

// DeleteQuery godoc
// @ID          deleteQuery
// @Summary     Delete a query
// @Description Permanently removes a query and its history. Only Resolved or Closed queries can be deleted.
// @Tags        Queries
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Query ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Invalid id"
// @Failure     401  {object} handlers.ErrorResponse "Unauthenticated"
// @Failure     403  {object} handlers.ErrorResponse "Role not allowed"
// @Failure     404  {object} handlers.ErrorResponse "Query not found"
// @Failure     409  {object} handlers.ErrorResponse "Query not resolved or closed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /queries/{id} [delete]
func (h *Handlers) DeleteQuery(c *gin.Context) {
	if err := h.queries.Delete(c.Request.Context(), c.Param("id"), principal(c)); err != nil {
		failQuery(c, err, ErrCodeDeleteFailed)
		return
	}
	noContent(c)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-query-desk/internal/domain"
	"github.com/tbourn/go-query-desk/internal/services"
)

// fakeQueries is a QueryService whose behavior is set per test.
type fakeQueries struct {
	create      func(context.Context, services.CreateInput, string) (*domain.Ticket, error)
	get         func(context.Context, string) (*domain.Ticket, error)
	list        func(context.Context, domain.TicketFilter) ([]domain.Ticket, error)
	fingerprint func(context.Context, domain.TicketFilter) (int64, *time.Time, error)
	update      func(context.Context, string, services.UpdateRequest, string) (*domain.Ticket, error)
	del         func(context.Context, string, string) error
	stats       func(context.Context) (*services.Stats, error)

	listCalls int
}

func (f *fakeQueries) Create(ctx context.Context, in services.CreateInput, p string) (*domain.Ticket, error) {
	return f.create(ctx, in, p)
}
func (f *fakeQueries) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	return f.get(ctx, id)
}
func (f *fakeQueries) List(ctx context.Context, flt domain.TicketFilter) ([]domain.Ticket, error) {
	f.listCalls++
	return f.list(ctx, flt)
}
func (f *fakeQueries) Fingerprint(ctx context.Context, flt domain.TicketFilter) (int64, *time.Time, error) {
	if f.fingerprint == nil {
		return 0, nil, context.Canceled
	}
	return f.fingerprint(ctx, flt)
}
func (f *fakeQueries) Update(ctx context.Context, id string, req services.UpdateRequest, p string) (*domain.Ticket, error) {
	return f.update(ctx, id, req, p)
}
func (f *fakeQueries) Delete(ctx context.Context, id, p string) error {
	return f.del(ctx, id, p)
}
func (f *fakeQueries) Stats(ctx context.Context) (*services.Stats, error) {
	return f.stats(ctx)
}

// fakeAuth is an AuthService whose behavior is set per test.
type fakeAuth struct {
	register func(context.Context, services.RegisterInput) (*domain.User, error)
	login    func(context.Context, string, string) (*services.Session, error)
}

func (f *fakeAuth) Register(ctx context.Context, in services.RegisterInput) (*domain.User, error) {
	return f.register(ctx, in)
}
func (f *fakeAuth) Login(ctx context.Context, email, pw string) (*services.Session, error) {
	return f.login(ctx, email, pw)
}

// memIdem is an in-memory IdempotencyStore.
type memIdem struct {
	records map[string]string
	failPut error
}

func newMemIdem() *memIdem { return &memIdem{records: map[string]string{}} }

func (m *memIdem) Lookup(_ context.Context, userID, scope, key string) (string, bool, error) {
	id, ok := m.records[userID+"|"+scope+"|"+key]
	return id, ok, nil
}

func (m *memIdem) Remember(_ context.Context, userID, scope, key, resourceID string, _ int) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.records[userID+"|"+scope+"|"+key] = resourceID
	return nil
}

// do serves one request against r, JSON-encoding body when non-nil.
func do(t *testing.T, r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return er
}

// withPrincipal simulates Authenticate for tests.
func withPrincipal(c *gin.Context) {
	if u := c.GetHeader("X-Test-User"); u != "" {
		c.Set("userID", u)
		c.Set("role", domain.RoleSupport)
	}
	c.Next()
}

// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Credential endpoints stay reachable even when AUTH_REQUIRED is set
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-query-desk/docs"
	"github.com/tbourn/go-query-desk/internal/auth"
	"github.com/tbourn/go-query-desk/internal/config"
	"github.com/tbourn/go-query-desk/internal/domain"
	"github.com/tbourn/go-query-desk/internal/events"
	"github.com/tbourn/go-query-desk/internal/http/handlers"
	"github.com/tbourn/go-query-desk/internal/http/middleware"
	"github.com/tbourn/go-query-desk/internal/repo"
	"github.com/tbourn/go-query-desk/internal/services"
)

// idempotencyScopeQueries scopes Idempotency-Key records of query intake.
const idempotencyScopeQueries = "queries"

// Credential endpoints get their own, stricter per-IP bucket.
const (
	authRateRPS   = 1.0
	authRateBurst = 10
)

// ticketRepoShim adapts the repository free functions to the
// services.TicketRepo interface expected by the TicketService.
type ticketRepoShim struct{}

func (ticketRepoShim) InsertTicket(ctx context.Context, db *gorm.DB, t *domain.Ticket) error {
	return repo.InsertTicket(ctx, db, t)
}

func (ticketRepoShim) GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	return repo.GetTicket(ctx, db, id)
}

func (ticketRepoShim) ListTickets(ctx context.Context, db *gorm.DB, f domain.TicketFilter) ([]domain.Ticket, error) {
	return repo.ListTickets(ctx, db, f)
}

func (ticketRepoShim) UpdateTicketFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any, history []domain.HistoryEntry) error {
	return repo.UpdateTicketFields(ctx, db, id, fields, history)
}

func (ticketRepoShim) DeleteTicket(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteTicket(ctx, db, id)
}

func (ticketRepoShim) CountTicketsBy(ctx context.Context, db *gorm.DB, column string) (map[string]int64, error) {
	return repo.CountTicketsBy(ctx, db, column)
}

func (ticketRepoShim) TicketsStats(ctx context.Context, db *gorm.DB, f domain.TicketFilter) (int64, *time.Time, error) {
	return repo.TicketsStats(ctx, db, f)
}

// userRepoShim adapts the user repository functions to services.UserRepo.
type userRepoShim struct{}

func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}

func (userRepoShim) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}

// idempotencyStore implements handlers.IdempotencyStore on the idempotency
// table. Records expire after ttl.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idempotencyStore) Lookup(ctx context.Context, userID, scope, key string) (string, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.ResourceID, true, nil
}

// Remember stores the outcome. A concurrent retry that won the race already
// stored the same mapping, so a duplicate is not an error.
func (s idempotencyStore) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Deps carries the collaborators built outside the router.
type Deps struct {
	// Events receives query lifecycle events. Nil disables publication.
	Events events.Dispatcher
	// ReadyChecks are probed by /ready in addition to the database, keyed by
	// the name reported on failure (e.g. "redis").
	ReadyChecks map[string]func(context.Context) error
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health, readiness and metrics endpoints, and then mounts the
// public API under cfg.APIBasePath.
//
// Global middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger (or plain Logger when LOG_REDACT=false)
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip
//  7. Metrics
//  8. CORS and Security headers
//
// Query routes add, in order: Authenticate, the idempotency validator (before
// the rate limiter so replays bypass it) and the per user/IP rate limiter.
// Credential routes only get a per-IP limiter.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access log
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
		}))
	} else {
		r.Use(middleware.Logger())
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Response compression; Prometheus scrapers negotiate their own
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderAuthToken, middleware.HeaderIdempotencyKey, "If-None-Match",
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Location", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	apiBase := cfg.APIBasePath // e.g. "/api"

	// Security headers; token responses are never cached
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStorePaths: []string{joinPath(apiBase, "/auth/")},
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness / readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readyHandler(db, deps.ReadyChecks))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)

	ticketSvc := services.NewTicketService(db, ticketRepoShim{})
	if deps.Events != nil {
		ticketSvc.Events = deps.Events
	}
	authSvc := services.NewAuthService(db, userRepoShim{}, tokens, cfg.Auth.BcryptCost)
	h := handlers.New(ticketSvc, authSvc, idempotencyStore{db: db, ttl: cfg.IdempotencyTTL})

	queriesPath := joinPath(apiBase, "/queries")
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope: func(c *gin.Context) string {
				if c.Request.Method == http.MethodPost && c.FullPath() == queriesPath {
					return idempotencyScopeQueries
				}
				return ""
			},
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return rec != nil, nil
		},
	)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	authRL := middleware.NewRateLimiter(authRateRPS, authRateBurst, middleware.KeyByIP())

	api := groupWithPrefix(r, apiBase)
	{
		// Credentials
		creds := api.Group("/auth", authRL.Handler())
		creds.POST("/register", h.Register)
		creds.POST("/login", h.Login)

		// Queries
		q := api.Group("/queries",
			middleware.Authenticate(tokens, cfg.Auth.Required),
			idem,
			rl.Handler(),
		)
		q.GET("", h.ListQueries)
		q.GET("/stats", h.QueryStats)
		q.GET("/:id", h.GetQuery)
		q.POST("", h.CreateQuery)

		staff := middleware.RequireRole(domain.RoleAdmin, domain.RoleSupport)
		q.PUT("/:id", staff, h.UpdateQuery)
		q.DELETE("/:id", staff, h.DeleteQuery)
	}
}

// readyHandler pings the database and every extra check with a short
// timeout. Any failure answers 503 naming the dependency.
func readyHandler(db *gorm.DB, checks map[string]func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness: database")
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "database unavailable")
			return
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Str("dependency", name).Msg("readiness")
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, name+" unavailable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath appends suffix (with its leading slash) to a normalized base path.
func joinPath(base, suffix string) string {
	return strings.TrimRight(base, "/") + suffix
}

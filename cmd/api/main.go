// Command api runs the query desk HTTP service.
//
// @title                      Query Desk API
// @version                    1.0
// @description                Customer query intake, triage and ticket lifecycle.
// @BasePath                   /api
//
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the JWT from /auth/login.
package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gorm.io/gorm"

	"github.com/tbourn/go-query-desk/internal/config"
	"github.com/tbourn/go-query-desk/internal/events"
	httpapi "github.com/tbourn/go-query-desk/internal/http"
	"github.com/tbourn/go-query-desk/internal/observability"
	"github.com/tbourn/go-query-desk/internal/repo"
	"github.com/tbourn/go-query-desk/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// idempotencyPurgeInterval is how often expired Idempotency-Key records are
// removed.
const idempotencyPurgeInterval = 15 * time.Minute

func main() {
	configPath := pflag.String("config", "", "optional YAML config file (env vars take precedence)")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading configuration")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", *envFile).Msg("dotenv not loaded")
	}

	cfg, err := config.LoadFrom(sysutil.FirstNonEmpty(*configPath, os.Getenv("CONFIG_FILE")))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	target := cfg.DBPath
	if cfg.DBDriver == repo.DriverPostgres {
		target = cfg.DBDSN
	}
	db, err := repo.Open(cfg.DBDriver, target)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.Instrument(db); err != nil {
			log.Fatal().Err(err).Msg("instrument database")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	if *migrateOnly || sysutil.IsTruthy(os.Getenv("MIGRATE_ONLY")) {
		log.Info().Msg("migrations applied")
		return
	}

	dispatcher, readyChecks, closeSinks := buildEvents(cfg.Events)
	defer closeSinks()

	go purgeIdempotency(ctx, db)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, httpapi.Deps{
		Events:      dispatcher,
		ReadyChecks: readyChecks,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion).
			Str("db_driver", cfg.DBDriver).
			Str("base_path", cfg.APIBasePath).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// buildEvents subscribes the log and metrics sinks plus the optional Redis
// and Kafka sinks. It returns extra readiness checks and a closer for the
// external clients.
func buildEvents(cfg config.EventsConfig) (events.Dispatcher, map[string]func(context.Context) error, func()) {
	d := events.NewInMemoryDispatcher()
	checks := map[string]func(context.Context) error{}
	var closers []func() error

	d.SubscribeAll(events.LogSink(log.Logger))

	if m, err := events.NewMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn().Err(err).Msg("event metrics disabled")
	} else {
		d.SubscribeAll(m.Handle)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		sink := &events.RedisSink{Client: rdb, Channel: cfg.RedisChannel}
		d.SubscribeAll(sink.Handle)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		closers = append(closers, rdb.Close)
		log.Info().Str("addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Msg("redis event sink enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, func(err error) {
			log.Warn().Err(err).Str("topic", cfg.KafkaTopic).Msg("kafka delivery failed")
		})
		d.SubscribeAll(sink.Handle)
		closers = append(closers, sink.Close)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka event sink enabled")
	}

	return d, checks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn().Err(err).Msg("close event sink")
			}
		}
	}
}

// purgeIdempotency deletes expired Idempotency-Key records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(idempotencyPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("idempotency purge")
			}
		}
	}
}

// Package config provides application configuration loaded from environment
// variables, an optional YAML file, and defaults, followed by validation. It
// centralizes server timeouts, logging, database, authentication, rate
// limiting, event sinks and observability settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// AuthConfig defines token signing and password hashing settings.
type AuthConfig struct {
	JWTSecret  string        // JWT_SECRET (required)
	JWTTTL     time.Duration // JWT_TTL
	BcryptCost int           // BCRYPT_COST
	Required   bool          // AUTH_REQUIRED: reject anonymous callers
}

// EventsConfig selects optional external event sinks. Empty addresses
// disable the corresponding sink.
type EventsConfig struct {
	RedisAddr    string   // REDIS_ADDR
	RedisChannel string   // REDIS_CHANNEL
	KafkaBrokers []string // KAFKA_BROKERS (csv)
	KafkaTopic   string   // KAFKA_TOPIC
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-query-desk")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // scrub PII from access logs
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Database
	DBDriver string // sqlite|postgres
	DBPath   string // SQLite path
	DBDSN    string // Postgres DSN

	Auth AuthConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	Events EventsConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, overlaid on the YAML
// file named by CONFIG_FILE when set.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom reads configuration with the YAML file at path (optional) as the
// lowest-precedence source above defaults. The file is a flat mapping of the
// same keys the environment uses, e.g. "PORT: 9090". Environment variables
// always win over file values.
func LoadFrom(path string) (Config, error) {
	src := source{}
	if path != "" {
		file, err := readYAML(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		// Server
		Port:              src.getenv("PORT", "8080"),
		ReadTimeout:       src.getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: src.getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      src.getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       src.getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    src.getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(src.getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(src.getenv("LOG_LEVEL", "info")),
		LogPretty:      src.getbool("LOG_PRETTY", false),
		LogRedact:      src.getbool("LOG_REDACT", true),
		SwaggerEnabled: src.getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(src.getenv("API_BASE_PATH", "/api")),

		// Database
		DBDriver: strings.ToLower(src.getenv("DB_DRIVER", "sqlite")),
		DBPath:   src.getenv("DB_PATH", "querydesk.db"),
		DBDSN:    src.getenv("DB_DSN", ""),

		Auth: AuthConfig{
			JWTSecret:  src.getenv("JWT_SECRET", ""),
			JWTTTL:     src.getdur("JWT_TTL", time.Hour),
			BcryptCost: src.getint("BCRYPT_COST", 10),
			Required:   src.getbool("AUTH_REQUIRED", false),
		},

		// Rate limiting
		RateRPS:   src.getfloat("RATE_RPS", 5.0),
		RateBurst: src.getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(src.getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: src.getbool("ENABLE_HSTS", false),
			HSTSMaxAge: src.getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: src.getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Events: EventsConfig{
			RedisAddr:    src.getenv("REDIS_ADDR", ""),
			RedisChannel: src.getenv("REDIS_CHANNEL", "querydesk.events"),
			KafkaBrokers: splitCSV(src.getenv("KAFKA_BROKERS", "")),
			KafkaTopic:   src.getenv("KAFKA_TOPIC", "querydesk.events"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     src.getbool("OTEL_ENABLED", false),
			Endpoint:    src.getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    src.getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: src.getenv("OTEL_SERVICE_NAME", "go-query-desk"),
			SampleRatio: src.getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" {
		cfg.DBDriver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Auth.JWTTTL <= 0 {
		return cfg, errors.New("JWT_TTL must be > 0")
	}
	// bcrypt.MinCost..bcrypt.MaxCost
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return cfg, errors.New("BCRYPT_COST must be between 4 and 31")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Events.RedisAddr != "" && strings.TrimSpace(cfg.Events.RedisChannel) == "" {
		return cfg, errors.New("REDIS_CHANNEL must not be empty when REDIS_ADDR is set")
	}
	if len(cfg.Events.KafkaBrokers) > 0 && strings.TrimSpace(cfg.Events.KafkaTopic) == "" {
		return cfg, errors.New("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- sources ----

// source resolves a key from the process environment first, then from the
// optional file mapping.
type source struct {
	file map[string]string
}

func (s source) lookup(k string) (string, bool) {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v, true
	}
	if v, ok := s.file[k]; ok && v != "" {
		return v, true
	}
	return "", false
}

func readYAML(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch t := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(t)
		}
	}
	return out, nil
}

// ---- helpers ----

func (s source) getenv(k, def string) string {
	if v, ok := s.lookup(k); ok {
		return v
	}
	return def
}

func (s source) getfloat(k string, def float64) float64 {
	if v, ok := s.lookup(k); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s source) getint(k string, def int) int {
	if v, ok := s.lookup(k); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s source) getbool(k string, def bool) bool {
	if v, ok := s.lookup(k); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func (s source) getdur(k string, def time.Duration) time.Duration {
	if v, ok := s.lookup(k); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

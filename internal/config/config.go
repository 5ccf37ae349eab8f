package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

const devSessionSecret = "dev-session-secret"

// Config aggregates runtime configuration for the service.
type Config struct {
	App         AppConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Logger      LoggerConfig
	Auth        AuthConfig
	Perimeter   PerimeterConfig
	Gate        GateConfig
	ReadOnly    ReadOnlyConfig
	DualControl DualControlConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr keeps caches in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Service string
}

// AuthConfig defines console session parameters.
type AuthConfig struct {
	SessionSecret     string
	SessionTTLMinutes int
	SessionCookieName string
}

// PerimeterConfig describes the upstream authenticator's signed assertion.
type PerimeterConfig struct {
	AssertionHeader string
	EmailHeader     string
	JWTSecret       string
	Issuer          string
	Audience        string
	MaxHeaderBytes  int
}

// GateConfig tunes the access gate evaluator.
type GateConfig struct {
	RequiredRoles         []string
	CacheTTLSeconds       int
	LookupTimeoutMillis   int
	BreakerFailures       uint32
	BreakerTimeoutSeconds int
}

// ReadOnlyConfig tunes read-only enforcement.
type ReadOnlyConfig struct {
	CacheTTLSeconds int
	BypassPaths     []string
	DefaultMessage  string
}

// DualControlConfig tunes the two-person workflow.
type DualControlConfig struct {
	ExpiryMinutes        int
	SweepIntervalSeconds int
	BreakGlassMaxMinutes int
	StoreTimeoutMillis   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "torvus-console"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Service: getEnv("APP_NAME", "torvus-console"),
		},
		Auth: AuthConfig{
			SessionSecret:     getEnv("AUTH_SESSION_SECRET", devSessionSecret),
			SessionTTLMinutes: getEnvAsInt("AUTH_SESSION_TTL_MINUTES", 60),
			SessionCookieName: getEnv("AUTH_SESSION_COOKIE", "torvus_session"),
		},
		Perimeter: PerimeterConfig{
			AssertionHeader: getEnv("PERIMETER_ASSERTION_HEADER", "Cf-Access-Jwt-Assertion"),
			EmailHeader:     getEnv("PERIMETER_EMAIL_HEADER", "Cf-Access-Authenticated-User-Email"),
			JWTSecret:       os.Getenv("PERIMETER_JWT_SECRET"),
			Issuer:          os.Getenv("PERIMETER_ISSUER"),
			Audience:        os.Getenv("PERIMETER_AUDIENCE"),
			MaxHeaderBytes:  getEnvAsInt("PERIMETER_MAX_HEADER_BYTES", 4096),
		},
		Gate: GateConfig{
			RequiredRoles:         getEnvAsList("GATE_REQUIRED_ROLES", []string{"security_admin", "auditor"}),
			CacheTTLSeconds:       getEnvAsInt("GATE_CACHE_TTL_SECONDS", 5),
			LookupTimeoutMillis:   getEnvAsInt("GATE_LOOKUP_TIMEOUT_MS", 1500),
			BreakerFailures:       uint32(getEnvAsInt("GATE_BREAKER_FAILURES", 5)),
			BreakerTimeoutSeconds: getEnvAsInt("GATE_BREAKER_TIMEOUT_SECONDS", 30),
		},
		ReadOnly: ReadOnlyConfig{
			CacheTTLSeconds: getEnvAsInt("READ_ONLY_CACHE_TTL_SECONDS", 5),
			BypassPaths:     getEnvAsList("READ_ONLY_BYPASS_PATHS", []string{"/api/settings/read-only", "/auth/"}),
			DefaultMessage:  getEnv("READ_ONLY_DEFAULT_MESSAGE", "The console is temporarily read-only."),
		},
		DualControl: DualControlConfig{
			ExpiryMinutes:        getEnvAsInt("DUAL_CONTROL_EXPIRY_MINUTES", 1440),
			SweepIntervalSeconds: getEnvAsInt("DUAL_CONTROL_SWEEP_INTERVAL_SECONDS", 60),
			BreakGlassMaxMinutes: getEnvAsInt("BREAK_GLASS_MAX_MINUTES", 240),
			StoreTimeoutMillis:   getEnvAsInt("DUAL_CONTROL_STORE_TIMEOUT_MS", 3000),
		},
	}

	return cfg, nil
}

// Validate fails loudly in production when a required backing store or
// secret is missing. Other environments degrade to in-memory collaborators.
func (c *Config) Validate() error {
	if !c.App.IsProduction() {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		missing = append(missing, "POSTGRES_DSN")
	}
	if strings.TrimSpace(c.Perimeter.JWTSecret) == "" {
		missing = append(missing, "PERIMETER_JWT_SECRET")
	}
	if c.Auth.SessionSecret == "" || c.Auth.SessionSecret == devSessionSecret {
		missing = append(missing, "AUTH_SESSION_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	if len(c.Gate.RequiredRoles) == 0 {
		return errors.New("GATE_REQUIRED_ROLES must not be empty")
	}
	return nil
}

// IsProduction reports whether the service runs with production guarantees.
func (a AppConfig) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(a.Env))
	return env == "production" || env == "prod"
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SessionTTL returns the console session lifetime.
func (a AuthConfig) SessionTTL() time.Duration {
	if a.SessionTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.SessionTTLMinutes) * time.Minute
}

// CacheTTL returns the gate evaluation cache lifetime.
func (g GateConfig) CacheTTL() time.Duration {
	return seconds(g.CacheTTLSeconds, 5*time.Second)
}

// LookupTimeout bounds a single directory lookup.
func (g GateConfig) LookupTimeout() time.Duration {
	return millis(g.LookupTimeoutMillis, 1500*time.Millisecond)
}

// BreakerTimeout is how long the directory breaker stays open.
func (g GateConfig) BreakerTimeout() time.Duration {
	return seconds(g.BreakerTimeoutSeconds, 30*time.Second)
}

// CacheTTL returns the settings cache lifetime.
func (r ReadOnlyConfig) CacheTTL() time.Duration {
	return seconds(r.CacheTTLSeconds, 5*time.Second)
}

// Expiry is the window a request has to reach a terminal state.
func (d DualControlConfig) Expiry() time.Duration {
	if d.ExpiryMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(d.ExpiryMinutes) * time.Minute
}

// SweepInterval is the period of the expiry sweeper.
func (d DualControlConfig) SweepInterval() time.Duration {
	return seconds(d.SweepIntervalSeconds, time.Minute)
}

// BreakGlassMax caps the lifetime of a break-glass membership.
func (d DualControlConfig) BreakGlassMax() time.Duration {
	if d.BreakGlassMaxMinutes <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(d.BreakGlassMaxMinutes) * time.Minute
}

// StoreTimeout bounds a single dual-control store call.
func (d DualControlConfig) StoreTimeout() time.Duration {
	return millis(d.StoreTimeoutMillis, 3*time.Second)
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func millis(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

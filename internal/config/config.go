package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	EnvProduction = "production"

	// DevJWTSecret is the signing secret used when JWT_SECRET is unset.
	// Production refuses to start with it.
	DevJWTSecret = "dev-secret"
)

type Config struct {
	Environment     string
	HTTPAddr        string
	GRPCAddr        string
	LogLevel        string
	ShutdownTimeout time.Duration
	Database        DatabaseConfig
	Redis           RedisConfig
	CORSOrigins     []string
	Auth            AuthConfig
	Matching        MatchingConfig
	Retention       RetentionConfig

	// loadErrs holds variables that were set but could not be parsed.
	loadErrs []error
}

type DatabaseConfig struct {
	Driver       string // postgres or mysql
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string
	CacheTTL time.Duration // lifetime of cached face codes and verification results
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

type MatchingConfig struct {
	// Threshold is the minimum similarity treated as a match.
	Threshold float64
}

type RetentionConfig struct {
	// LogRetention is how long verification logs are kept. Zero keeps them forever.
	LogRetention time.Duration
	Interval     time.Duration
}

// LoadDotEnv loads a .env file when one exists. A missing file is not an
// error: deployed environments set real variables.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// Load reads the configuration from the environment. Values that fail to
// parse are reported by Validate.
func Load() *Config {
	env := &envReader{}
	cfg := &Config{
		Environment:     strings.ToLower(getEnv("APP_ENV", "development")),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getEnv("GRPC_ADDR", ":50051"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		Database: DatabaseConfig{
			Driver:       strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
			DSN:          getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=salon port=5432 sslmode=disable"),
			MaxOpenConns: env.int("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: env.int("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "redis:6379"),
			CacheTTL: env.duration("CACHE_TTL", 5*time.Minute),
		},
		CORSOrigins: envList("CORS_ALLOWED_ORIGINS"),
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", DevJWTSecret),
			JWTAudience: os.Getenv("JWT_AUDIENCE"),
		},
		Matching: MatchingConfig{
			Threshold: env.float("MATCH_THRESHOLD", 0.90),
		},
		Retention: RetentionConfig{
			LogRetention: env.duration("LOG_RETENTION", 90*24*time.Hour),
			Interval:     env.duration("RETENTION_INTERVAL", time.Hour),
		},
	}
	cfg.loadErrs = env.errs
	return cfg
}

// UsesDevSecret reports whether tokens are signed with DevJWTSecret.
func (c *Config) UsesDevSecret() bool {
	return c.Auth.JWTSecret == DevJWTSecret
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if len(c.loadErrs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(c.loadErrs...))
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("config: unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("config: DATABASE_MAX_OPEN_CONNS must be at least 1, got %d", c.Database.MaxOpenConns)
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("config: DATABASE_MAX_IDLE_CONNS must not be negative, got %d", c.Database.MaxIdleConns)
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("config: MATCH_THRESHOLD must be within [0,1], got %v", c.Matching.Threshold)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Redis.CacheTTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL must be positive")
	}
	if c.Retention.LogRetention < 0 {
		return fmt.Errorf("config: LOG_RETENTION must not be negative")
	}
	if c.Retention.LogRetention > 0 && c.Retention.Interval <= 0 {
		return fmt.Errorf("config: RETENTION_INTERVAL must be positive")
	}
	if c.Environment == EnvProduction && (c.Auth.JWTSecret == "" || c.UsesDevSecret()) {
		return fmt.Errorf("config: JWT_SECRET must be set to a non-default value in production")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// envReader parses typed variables and remembers the ones it could not read.
type envReader struct {
	errs []error
}

func (r *envReader) int(key string, defaultVal int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return n
}

func (r *envReader) float(key string, defaultVal float64) float64 {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return f
}

func (r *envReader) duration(key string, defaultVal time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return d
}

// envList splits a comma separated variable, dropping blank entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the console and the API.
type Config struct {
	App          AppConfig
	Console      ConsoleConfig
	Session      SessionConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
}

// AppConfig controls the API server.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// ConsoleConfig controls the operator console process.
type ConsoleConfig struct {
	Host               string
	Port               string
	APIBaseURL         string
	SignInPath         string
	AdminHome          string
	UserHome           string
	HTTPTimeoutSeconds int
}

// SessionConfig controls token persistence and renewal.
type SessionConfig struct {
	DurableBackend        string
	Namespace             string
	RefreshLeadSeconds    int
	RefreshTimeoutSeconds int
	DurableTTLHours       int
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

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token issuing parameters for the API.
type AuthConfig struct {
	JWTSecret               string
	AccessTokenTTLMinutes   int
	RefreshGraceMinutes     int
	PasswordResetTTLMinutes int
	BcryptCost              int
}

// NotificationConfig holds stub mail settings.
type NotificationConfig struct {
	EmailFrom string
	ResetURL  string
}

const (
	DurableBackendRedis  = "redis"
	DurableBackendMemory = "memory"
)

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
			Name:                  getEnv("APP_NAME", "heritage-api"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Console: ConsoleConfig{
			Host:               getEnv("CONSOLE_HOST", "127.0.0.1"),
			Port:               getEnv("CONSOLE_PORT", "4200"),
			APIBaseURL:         strings.TrimRight(getEnv("CONSOLE_API_BASE_URL", "http://127.0.0.1:8080"), "/"),
			SignInPath:         getEnv("CONSOLE_SIGNIN_PATH", "/auth/signin"),
			AdminHome:          getEnv("CONSOLE_ADMIN_HOME", "/dashboard"),
			UserHome:           getEnv("CONSOLE_USER_HOME", "/frontoffice"),
			HTTPTimeoutSeconds: getEnvAsInt("CONSOLE_HTTP_TIMEOUT_SECONDS", 30),
		},
		Session: SessionConfig{
			DurableBackend:        strings.ToLower(getEnv("SESSION_DURABLE_BACKEND", DurableBackendRedis)),
			Namespace:             getEnv("SESSION_NAMESPACE", "heritage-console"),
			RefreshLeadSeconds:    getEnvAsInt("SESSION_REFRESH_LEAD_SECONDS", 300),
			RefreshTimeoutSeconds: getEnvAsInt("SESSION_REFRESH_TIMEOUT_SECONDS", 15),
			DurableTTLHours:       getEnvAsInt("SESSION_DURABLE_TTL_HOURS", 24*30),
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
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:               getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes:   getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			RefreshGraceMinutes:     getEnvAsInt("AUTH_REFRESH_GRACE_MINUTES", 10),
			PasswordResetTTLMinutes: getEnvAsInt("AUTH_PASSWORD_RESET_TTL_MINUTES", 30),
			BcryptCost:              getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Notification: NotificationConfig{
			EmailFrom: getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			ResetURL:  getEnv("NOTIFY_RESET_URL", "http://127.0.0.1:4200/auth/reset-password"),
		},
	}

	switch cfg.Session.DurableBackend {
	case DurableBackendRedis, DurableBackendMemory:
	default:
		return nil, fmt.Errorf("invalid SESSION_DURABLE_BACKEND %q", cfg.Session.DurableBackend)
	}

	return cfg, nil
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

// Addr returns the console bind address.
func (c ConsoleConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// HTTPTimeout bounds calls from the console to the API.
func (c ConsoleConfig) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// RefreshLead is how long before expiry the proactive renewal fires.
func (s SessionConfig) RefreshLead() time.Duration {
	if s.RefreshLeadSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.RefreshLeadSeconds) * time.Second
}

// RefreshTimeout bounds a single renewal call.
func (s SessionConfig) RefreshTimeout() time.Duration {
	if s.RefreshTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.RefreshTimeoutSeconds) * time.Second
}

// DurableTTL is the expiry applied to durable tier keys. Zero disables it.
func (s SessionConfig) DurableTTL() time.Duration {
	if s.DurableTTLHours <= 0 {
		return 0
	}
	return time.Duration(s.DurableTTLHours) * time.Hour
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

package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"medvoll-identity/internal/maintenance"
	"medvoll-identity/internal/policy"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	StoreDriver   string
	DatabaseURL   string
	SessionSecret string

	SeedFile      string
	SeedOnStartup bool
	BcryptCost    int

	Policy policy.SecurityPolicy

	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration

	CronSecret       string
	CleanupSchedule  string
	SessionRetention time.Duration
	CleanupBatchSize int

	SentryDSN   string
	Environment string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
}

// LoadConfig reads the process configuration from the environment.
func LoadConfig() (Config, error) {
	sessionSecret, err := mustEnv("SESSION_SECRET")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		StoreDriver:   strings.ToLower(envOrDefault("STORE_DRIVER", StoreDriverPostgres)),
		SessionSecret: sessionSecret,

		SeedFile:      os.Getenv("SEED_FILE"),
		SeedOnStartup: EnvBoolOrDefault("SEED_ON_STARTUP", true),
		BcryptCost:    envIntOrDefault("BCRYPT_COST", bcrypt.DefaultCost),

		Policy: policyFromEnv(),

		LoginRateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),

		CronSecret:       os.Getenv("CRON_SECRET"),
		CleanupSchedule:  envOrDefault("CLEANUP_SCHEDULE", maintenance.DefaultSchedule),
		SessionRetention: envDaysOrDefault("SESSION_RETENTION_DAYS", 7),
		CleanupBatchSize: envIntOrDefault("CLEANUP_BATCH_SIZE", 500),

		SentryDSN:   os.Getenv("SENTRY_DSN"),
		Environment: envOrDefault("APP_ENV", "development"),

		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL, err = mustEnv("DATABASE_URL"); err != nil {
			return Config{}, err
		}
	case StoreDriverMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return Config{}, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return Config{}, fmt.Errorf("security policy: %w", err)
	}

	return cfg, nil
}

// policyFromEnv starts from policy.Default and applies the overrides that
// are exposed as environment variables.
func policyFromEnv() policy.SecurityPolicy {
	p := policy.Default()

	p.Password.MinLength = envIntOrDefault("PASSWORD_MIN_LENGTH", p.Password.MinLength)
	p.Lockout.MaxFailedAttempts = envIntOrDefault("LOCKOUT_MAX_ATTEMPTS", p.Lockout.MaxFailedAttempts)
	p.Lockout.Duration = envMinutesOrDefault("LOCKOUT_MINUTES", int(p.Lockout.Duration/time.Minute))
	p.Session.IdleTimeout = envMinutesOrDefault("SESSION_IDLE_MINUTES", int(p.Session.IdleTimeout/time.Minute))
	p.Session.Sliding = EnvBoolOrDefault("SESSION_SLIDING", p.Session.Sliding)
	p.Cookie.Secure = EnvBoolOrDefault("COOKIE_SECURE", p.Cookie.Secure)
	p.CSRF.HeaderName = envOrDefault("CSRF_HEADER_NAME", p.CSRF.HeaderName)
	p.CSRF.CookieName = envOrDefault("CSRF_COOKIE_NAME", p.CSRF.CookieName)
	p.Paths.Login = envOrDefault("LOGIN_PATH", p.Paths.Login)
	p.Paths.Logout = envOrDefault("LOGOUT_PATH", p.Paths.Logout)
	p.Paths.AccessDenied = envOrDefault("ACCESS_DENIED_PATH", p.Paths.AccessDenied)

	return p
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingSecret = errors.New("SECRET_KEY is not set")

type DBConfig struct {
	Driver    string
	URL       string
	SQLiteDSN string
	MaxConns  int32
	Timeout   time.Duration
}

type BootstrapConfig struct {
	Allow    bool
	Username string
	Password string
	Email    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	Env  string
	Port int

	SecretKey         string
	TokenTTL          time.Duration
	BcryptCost        int
	PasswordMinLength int

	DB        DBConfig
	Bootstrap BootstrapConfig
	Redis     RedisConfig

	LoginRateLimit  int
	LoginRateWindow time.Duration

	CORSOrigins     []string
	MaxBodyBytes    int64
	OTELEndpoint    string
	OTELSampleRatio float64
	ServiceName     string
	MetricsEnabled  bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 8080),

		SecretKey:         os.Getenv("SECRET_KEY"),
		TokenTTL:          time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 24*60)) * time.Minute,
		BcryptCost:        getEnvInt("BCRYPT_COST", 0),
		PasswordMinLength: getEnvInt("PASSWORD_MIN_LENGTH", 1),

		DB: DBConfig{
			Driver:    strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			URL:       getEnv("DATABASE_URL", buildDBURL()),
			SQLiteDSN: getEnv("SQLITE_DSN", "file:edms.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
			MaxConns:  int32(getEnvInt("DB_MAX_CONNS", 5)),
			Timeout:   time.Duration(getEnvInt("DB_TIMEOUT_MS", 3000)) * time.Millisecond,
		},
		Bootstrap: BootstrapConfig{
			Allow:    getEnvBool("ALLOW_ADMIN_BOOTSTRAP", false),
			Username: firstEnv("ADMIN_USERNAME", "ADMIN_USER"),
			Password: firstEnv("ADMIN_PASSWORD", "ADMIN_PASS"),
			Email:    os.Getenv("ADMIN_EMAIL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		LoginRateLimit:  getEnvInt("LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: time.Duration(getEnvInt("LOGIN_RATE_WINDOW_SECONDS", 60)) * time.Second,

		CORSOrigins:     splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		MaxBodyBytes:    int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		OTELEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		ServiceName:     getEnv("OTEL_SERVICE_NAME", "edms-api"),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
	}
}

// Validate rejects configurations the API must not start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return ErrMissingSecret
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Bootstrap.Allow && (c.Bootstrap.Username == "" || c.Bootstrap.Password == "") {
		return fmt.Errorf("ALLOW_ADMIN_BOOTSTRAP requires ADMIN_USERNAME and ADMIN_PASSWORD")
	}
	return nil
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "edms")
	pass := getEnv("DB_PASSWORD", "edms")
	name := getEnv("DB_NAME", "edms")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid number in environment, using default", "key", key, "value", v)
			return fallback
		}
		return f
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean in environment, using default", "key", key, "value", v)
			return fallback
		}
		return b
	}
	return fallback
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

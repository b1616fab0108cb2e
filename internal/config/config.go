package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	// Env is "development" or "production". Origin allow-lists are only
	// enforced in production.
	Env string

	AdminUser     string
	AdminPassword string

	DatabaseURL string
	// DBMaxOpenConns and DBMaxIdleConns size the postgres pool.
	DBMaxOpenConns int
	DBMaxIdleConns int

	ListenAddr string

	LogLevel  string
	LogFormat string

	// SignedURLTTL is how long video URLs handed to widgets stay valid.
	SignedURLTTL time.Duration
	// SessionTTL is how long a dashboard sign-in lasts.
	SessionTTL time.Duration

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PathStyle       bool

	// PublicMediaURL is used to build unsigned video URLs when no bucket is
	// configured (local development against a static file server).
	PublicMediaURL string
	MediaDir       string

	// WidgetRatePerMinute caps widget requests per client IP.
	WidgetRatePerMinute int

	// BreakerFailures consecutive conversion-store failures open the breaker
	// for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	MaxUploadBytes int
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		Env:                 strings.ToLower(getenv("APP_ENV", "development")),
		AdminUser:           getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:       getenv("APP_ADMIN_PASSWORD", "changeme"),
		DatabaseURL:         os.Getenv("APP_DATABASE_URL"),
		DBMaxOpenConns:      getint("APP_DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:      getint("APP_DB_MAX_IDLE_CONNS", 5),
		ListenAddr:          getenv("APP_LISTEN_ADDR", ":8080"),
		LogLevel:            getenv("APP_LOG_LEVEL", "info"),
		LogFormat:           getenv("APP_LOG_FORMAT", "json"),
		SignedURLTTL:        time.Duration(getint("APP_SIGNED_URL_TTL_SECONDS", 3600)) * time.Second,
		SessionTTL:          time.Duration(getint("APP_SESSION_TTL_HOURS", 168)) * time.Hour,
		S3Bucket:            os.Getenv("APP_S3_BUCKET"),
		S3Region:            os.Getenv("APP_S3_REGION"),
		S3Endpoint:          os.Getenv("APP_S3_ENDPOINT"),
		S3AccessKeyID:       os.Getenv("APP_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:   os.Getenv("APP_S3_SECRET_ACCESS_KEY"),
		S3PathStyle:         getenv("APP_S3_PATH_STYLE", "false") == "true",
		PublicMediaURL:      getenv("APP_PUBLIC_MEDIA_URL", "http://localhost:8080/media"),
		MediaDir:            getenv("APP_MEDIA_DIR", "./media"),
		WidgetRatePerMinute: getint("APP_WIDGET_RATE_PER_MINUTE", 600),
		BreakerFailures:     uint32(getint("APP_BREAKER_FAILURES", 5)),
		BreakerTimeout:      time.Duration(getint("APP_BREAKER_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxUploadBytes:      getint("APP_MAX_UPLOAD_MB", 200) * 1024 * 1024,
	}
	return cfg
}

// Production reports whether origin checks are enforced.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getint returns def for unset, malformed or non-positive values.
func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

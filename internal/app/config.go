package app

import (
	"time"

	"github.com/yungbote/neuroscout-backend/internal/platform/envutil"
)

type Config struct {
	Port    string
	LogMode string
	// Environment tags traces and Sentry events.
	Environment string
	Version     string

	JWTSecretKey   string
	AllowedOrigins string

	BundleDir      string
	ReportDir      string
	WorkDir        string
	SchemaPath     string
	ReportFontPath string
	ServerName     string
	ProductionHost string

	RedisAddr           string
	InvalidationChannel string
	EventCacheTTL       time.Duration
	ExtractorsEnabled   bool
	SentryDSN           string
	ShutdownGrace       time.Duration
}

func LoadConfig() Config {
	return Config{
		Port:        envutil.String("PORT", "8080"),
		LogMode:     envutil.String("LOG_MODE", "development"),
		Environment: envutil.String("ENVIRONMENT", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),

		JWTSecretKey:   envutil.String("JWT_SECRET_KEY", ""),
		AllowedOrigins: envutil.String("CORS_ALLOWED_ORIGINS", ""),

		BundleDir:      envutil.String("BUNDLE_DIR", "bundles"),
		ReportDir:      envutil.String("REPORT_DIR", "reports"),
		WorkDir:        envutil.String("BUNDLE_WORK_DIR", ""),
		SchemaPath:     envutil.String("SCHEMA_PATH", ""),
		ReportFontPath: envutil.String("REPORT_FONT_PATH", ""),
		ServerName:     envutil.String("SERVER_NAME", "localhost:8080"),
		ProductionHost: envutil.String("PRODUCTION_HOSTNAME", ""),

		RedisAddr:           envutil.String("REDIS_ADDR", ""),
		InvalidationChannel: envutil.String("REDIS_INVALIDATION_CHANNEL", "neuroscout:events"),
		EventCacheTTL:       envutil.Seconds("EVENT_CACHE_TTL_SECONDS", 600),
		ExtractorsEnabled:   envutil.Bool("GCP_EXTRACTORS_ENABLED", false),
		SentryDSN:           envutil.String("SENTRY_DSN", ""),
		ShutdownGrace:       envutil.Seconds("SHUTDOWN_GRACE_SECONDS", 20),
	}
}

func (c Config) Addr() string {
	return ":" + c.Port
}

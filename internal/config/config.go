package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	AppOrigin        string
	AuthCookieSecure bool
	NodeID           int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	Stripe StripeConfig

	// FreePlanName is the well-known plan accounts fall back to on cancellation.
	FreePlanName    string
	PlanCatalogPath string

	Referral ReferralConfig
	Payout   PayoutConfig

	// SchedulerJobs is a comma separated allow-list. Empty runs every job.
	SchedulerJobs string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	RequestTimeout time.Duration
}

type ReferralConfig struct {
	DefaultMinPayout         int64
	DefaultQualificationDays int
	Currency                 string
}

type PayoutConfig struct {
	TransferTimeout   time.Duration
	RateLimitRate     float64
	RateLimitBurst    int
	LockTTL           time.Duration
	StaleAfter        time.Duration
	SchedulerInterval time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "closeframe"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AppOrigin:         strings.TrimRight(getenv("APP_ORIGIN", "http://localhost:3000"), "/"),
		AuthCookieSecure:  authCookieSecure,
		NodeID:            getenvInt64("NODE_ID", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "closeframe"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "closeframe.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", true),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Stripe: StripeConfig{
			SecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			RequestTimeout: getenvDuration("STRIPE_REQUEST_TIMEOUT", 20*time.Second),
		},
		FreePlanName:    getenv("FREE_PLAN_NAME", "free"),
		PlanCatalogPath: getenv("PLAN_CATALOG_PATH", ""),
		Referral: ReferralConfig{
			DefaultMinPayout:         getenvInt64("REFERRAL_DEFAULT_MIN_PAYOUT", 5000),
			DefaultQualificationDays: int(getenvInt64("REFERRAL_QUALIFICATION_DAYS", 30)),
			Currency:                 strings.ToLower(getenv("REFERRAL_CURRENCY", "usd")),
		},
		Payout: PayoutConfig{
			TransferTimeout:   getenvDuration("REFERRAL_TRANSFER_TIMEOUT", 15*time.Second),
			RateLimitRate:     getenvFloat("PAYOUT_RATE_LIMIT_RATE", 0.1),
			RateLimitBurst:    int(getenvInt64("PAYOUT_RATE_LIMIT_BURST", 3)),
			LockTTL:           getenvDuration("PAYOUT_LOCK_TTL", time.Minute),
			StaleAfter:        getenvDuration("PAYOUT_STALE_AFTER", 30*time.Minute),
			SchedulerInterval: getenvDuration("SCHEDULER_INTERVAL", time.Minute),
		},
		SchedulerJobs: getenv("SCHEDULER_JOBS", ""),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rubenoroz/closeframe-sub002/internal/config"
)

// Config holds observability settings. Values come from the LOG_*, OTEL_*
// and DB_QUERY_* environment with the app config as fallback.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	// DBQueryLog is the gorm log level: silent, error, warn or info.
	DBQueryLog      string
	DBSlowQuery     time.Duration
	DBSlowLockQuery time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	env := envReader(os.Getenv)

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "closeframe"
	}

	protocol := env.lower("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := env.lower("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", ""); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          env.str("DEPLOYMENT_ENV", cfg.Environment),
		Version:              env.str("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             env.lower("LOG_LEVEL", "info"),
		LogFormat:            env.lower("LOG_FORMAT", "json"),
		DBQueryLog:           env.lower("DB_QUERY_LOG", "warn"),
		DBSlowQuery:          env.duration("DB_QUERY_SLOW_THRESHOLD", 200*time.Millisecond),
		DBSlowLockQuery:      env.duration("DB_QUERY_SLOW_LOCK_THRESHOLD", 2*time.Second),
		OtelEnabled:          env.boolean("OTEL_ENABLED", false),
		OtelExporterEndpoint: env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    env.float("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

type envReader func(string) string

func (e envReader) str(key, def string) string {
	if value := strings.TrimSpace(e(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func (e envReader) lower(key, def string) string {
	return strings.ToLower(e.str(key, def))
}

func (e envReader) boolean(key string, def bool) bool {
	switch e.lower(key, "") {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func (e envReader) float(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(e.str(key, ""), 64)
	if err != nil {
		return def
	}
	return parsed
}

// duration accepts Go durations ("750ms") or bare milliseconds ("750").
func (e envReader) duration(key string, def time.Duration) time.Duration {
	value := e.str(key, "")
	if value == "" {
		return def
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return def
}

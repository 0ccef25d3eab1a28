package observability

import (
	"testing"
	"time"

	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("DB_QUERY_LOG", "info")
	t.Setenv("DB_QUERY_SLOW_THRESHOLD", "750")
	t.Setenv("DB_QUERY_SLOW_LOCK_THRESHOLD", "5s")

	cfg := LoadConfig(config.Config{AppName: "closeframe-api", Environment: "production"})

	require.Equal(t, "closeframe-api", cfg.ServiceName)
	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.Debug())
	require.True(t, cfg.OtelEnabled)
	require.Equal(t, "http", cfg.OtelExporterProtocol)
	require.Equal(t, 750*time.Millisecond, cfg.DBSlowQuery)
	require.Equal(t, 5*time.Second, cfg.DBSlowLockQuery)

	gormCfg := provideGormLoggerConfig(cfg)
	require.Equal(t, gormlogger.Info, gormCfg.Level)
	require.Equal(t, 750*time.Millisecond, gormCfg.SlowThreshold)
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "DEPLOYMENT_ENV", "DB_QUERY_LOG"} {
		t.Setenv(key, "")
	}
	t.Setenv("OTEL_SAMPLING_RATIO", "not-a-number")
	t.Setenv("DB_QUERY_SLOW_THRESHOLD", "soon")

	cfg := LoadConfig(config.Config{Environment: "production"})

	require.Equal(t, "closeframe", cfg.ServiceName)
	require.False(t, cfg.Debug())
	require.Equal(t, 0.1, cfg.OtelSamplingRatio)
	require.Equal(t, 200*time.Millisecond, cfg.DBSlowQuery)
	require.Equal(t, gormlogger.Warn, provideGormLoggerConfig(cfg).Level)
}

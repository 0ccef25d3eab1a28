package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm driver for DATABASE_TYPE. Postgres is the production
// store; mysql and sqlite serve local runs.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "postgres", "postgresql", "":
		return postgres.New(postgres.Config{DSN: postgresDSN(cfg)}), nil
	case "mysql":
		return mysql.New(mysql.Config{DSN: mysqlDSN(cfg)}), nil
	case "sqlite":
		return sqlite.Open(cfg.DBPath), nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_TYPE %q", cfg.DBType)
	}
}

func postgresDSN(cfg config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     cfg.DBHost + ":" + cfg.DBPort,
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": {sslMode}, "TimeZone": {"UTC"}}.Encode(),
	}
	return u.String()
}

func mysqlDSN(cfg config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

// ForUpdate is the row-lock suffix for SELECTs inside a transaction.
// SQLite serializes writers and rejects the clause.
func ForUpdate(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil || tx.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

// AdvisoryLock holds a transaction-scoped lock on key until tx ends. Only
// postgres takes it: sqlite serializes writers and mysql serves local runs.
func AdvisoryLock(ctx context.Context, tx *gorm.DB, key string) error {
	if tx == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.WithContext(ctx).Exec(`SELECT pg_advisory_xact_lock(hashtext(?))`, key).Error
}

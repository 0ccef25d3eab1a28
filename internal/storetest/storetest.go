// Package storetest opens an in-memory SQLite database carrying the same
// tables the migrations create, for repository and service tests.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE plans (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		sort_order INTEGER NOT NULL UNIQUE,
		config TEXT NOT NULL DEFAULT '{}',
		price_refs TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE accounts (
		id BIGINT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'member',
		plan_id BIGINT,
		feature_overrides TEXT NOT NULL DEFAULT '{}',
		processor_customer_id TEXT,
		processor_subscription_id TEXT,
		price_id TEXT,
		current_period_end DATETIME,
		scheduled_plan_id BIGINT,
		referred_by_code TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE referral_profile_templates (
		id BIGINT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		qualification_days INTEGER NOT NULL DEFAULT 30,
		config TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE referral_assignments (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL UNIQUE,
		template_id BIGINT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		payout_method TEXT NOT NULL,
		payout_destination TEXT,
		config_override TEXT NOT NULL DEFAULT '{}',
		total_earned BIGINT NOT NULL DEFAULT 0,
		total_paid BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE referral_commissions (
		id BIGINT PRIMARY KEY,
		assignment_id BIGINT NOT NULL,
		referred_account_id BIGINT,
		payment_ref TEXT NOT NULL UNIQUE,
		invoice_ref TEXT,
		base_amount BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		adjusted_amount BIGINT,
		refunded_amount BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payout_id BIGINT,
		qualifies_at DATETIME NOT NULL,
		qualified_at DATETIME,
		reversed_at DATETIME,
		reversal_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE referral_payment_reversals (
		payment_ref TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		refunded_amount BIGINT NOT NULL DEFAULT 0,
		full_reversal BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE referral_payouts (
		id BIGINT PRIMARY KEY,
		assignment_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		external_transfer_id TEXT,
		failure_reason TEXT,
		requested_at DATETIME NOT NULL,
		processed_at DATETIME,
		completed_at DATETIME,
		failed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		account_id BIGINT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		UNIQUE (provider, provider_event_id)
	)`,
}

// Open returns a fresh isolated database with every table created.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// a single connection keeps the shared in-memory database alive and
	// serializes transactions the way row locks would on postgres
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// Node returns a snowflake node for test ids.
func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(int64(seq.Add(1) % 1024))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// Count returns the number of rows in table matching where.
func Count(t *testing.T, db *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	q := db.Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

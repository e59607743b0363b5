// Package testutil provides an in-memory store with the production schema
// expressed in SQLite types.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		openid TEXT NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		seed_usage_count INTEGER NOT NULL DEFAULT 0,
		has_ever_paid BOOLEAN NOT NULL DEFAULT FALSE,
		first_payment_at DATETIME,
		last_payment_at DATETIME,
		invite_code TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_users_openid ON users (openid)`,
	`CREATE UNIQUE INDEX ux_users_invite_code ON users (invite_code)`,
	`CREATE TABLE usage_logs (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		action_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		resulting_balance INTEGER NOT NULL,
		reason TEXT NOT NULL,
		reference_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_usage_logs_once ON usage_logs (user_id, reason, reference_id)
		WHERE reason IN ('payment', 'invite_reward', 'refund')`,
	`CREATE TABLE price_configs (
		item_type TEXT PRIMARY KEY,
		order_kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`INSERT INTO price_configs (item_type, order_kind, amount) VALUES
		('basic', 'payment', 990),
		('premium', 'payment', 2990),
		('photo_print', 'product', 1990),
		('photo_album', 'product', 5990)`,
	`CREATE TABLE orders (
		order_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		generation_id TEXT,
		item_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		refunded_amount INTEGER NOT NULL DEFAULT 0,
		gateway_transaction_id TEXT,
		status TEXT NOT NULL,
		evidence TEXT NOT NULL DEFAULT '{}',
		paid_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_orders_gateway_txn ON orders (gateway_transaction_id)
		WHERE gateway_transaction_id IS NOT NULL`,
	`CREATE TABLE payment_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		payload BLOB,
		outcome TEXT NOT NULL DEFAULT '',
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event ON payment_events (provider, provider_event_id)`,
	`CREATE TABLE invite_records (
		id INTEGER PRIMARY KEY,
		inviter_id INTEGER NOT NULL,
		invitee_id INTEGER NOT NULL,
		invite_code_used TEXT NOT NULL,
		reward_granted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		CHECK (inviter_id <> invitee_id)
	)`,
	`CREATE UNIQUE INDEX ux_invite_records_invitee ON invite_records (invitee_id)`,
	`CREATE TABLE invite_stats (
		user_id INTEGER PRIMARY KEY,
		total_invites INTEGER NOT NULL DEFAULT 0,
		successful_invites INTEGER NOT NULL DEFAULT 0,
		total_rewards INTEGER NOT NULL DEFAULT 0,
		last_invite_at DATETIME,
		updated_at DATETIME NOT NULL
	)`,
}

// NewDB opens a private in-memory database with the full schema. The pool is
// pinned to one connection so concurrent callers serialize like row locks.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// Count runs a COUNT query and returns the scalar.
func Count(t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return count
}

// AssertCount fails the test when query does not return expected.
func AssertCount(t *testing.T, db *gorm.DB, query string, expected int64, args ...any) {
	t.Helper()
	if got := Count(t, db, query, args...); got != expected {
		t.Fatalf("expected %d rows for %q, got %d", expected, query, got)
	}
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh SQLite file in the test's temp dir so concurrent
// goroutines share one database.
// PostgreSQL connections are pool-limited and closed on test cleanup to
// avoid exceeding max_connections.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := Open(dsn, logger.Silent, MaxOpenConns(4), MaxIdleConns(2))
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(t, db)
		t.Cleanup(func() {
			cleanupPostgresDB(t, db)
			_ = sqlDB.Close()
		})
		return db
	}

	db, err := Open(filepath.Join(t.TempDir(), "schedmail.db"), logger.Silent)
	require.NoError(t, err, "open sqlite test db")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without
// requiring a fresh database per test.
func cleanupPostgresDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	db.Exec("DELETE FROM scheduled_items")
}

// newTestStorage creates a fresh, migrated storage instance for each test.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newTestItem builds a minimal valid item due at due.
func newTestItem(due time.Time) *core.ScheduledItem {
	return &core.ScheduledItem{
		Recipient:    "user@example.com",
		Subject:      "Hello",
		Body:         "Body",
		ScheduleTime: due,
	}
}

// createItem inserts a test item due at due and returns its id.
func createItem(t *testing.T, s *GormStorage, due time.Time) string {
	t.Helper()
	id, err := s.Create(context.Background(), newTestItem(due))
	require.NoError(t, err)
	return id
}

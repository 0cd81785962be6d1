package helpers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xiaot623/pmpcs/internal/domain"
	"github.com/xiaot623/pmpcs/internal/policy"
	"github.com/xiaot623/pmpcs/internal/service"
	"github.com/xiaot623/pmpcs/internal/store"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestFileSQLiteStore opens an on-disk database under t.TempDir() with the
// service's default connection parameters.
func NewTestFileSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "pmpcs.db") + "?mode=rwc&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// Clock is a settable time source for expiry tests.
type Clock struct {
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time { return c.now }

func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// NewTestService builds an engine over an in-memory store with the default policy.
func NewTestService(t *testing.T, opts ...service.Option) (*service.Service, *store.SQLiteStore) {
	t.Helper()

	s := NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	return service.New(s, engine, opts...), s
}

// PaymentRequest returns valid request terms expiring an hour after now.
func PaymentRequest(now time.Time) domain.PaymentRequest {
	return domain.PaymentRequest{
		Amount:      mustDecimal("100.00"),
		Currency:    "USD",
		RecipientID: "user1",
		Description: "Order 42",
		Preferences: []domain.Preference{{"method": "BTC", "wallet": "addr"}},
		Expiry:      now.Add(time.Hour),
	}
}

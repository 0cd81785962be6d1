package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/pmpcs/internal/domain"
)

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, newTestSQLiteStore)
}

func TestSQLiteStore_ContractOnFile(t *testing.T) {
	dsns := map[string]string{
		"wal":          "?mode=rwc&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate",
		"plain path":   "",
		"shared cache": "?cache=shared&mode=rwc&_busy_timeout=5000",
	}
	for name, query := range dsns {
		t.Run(name, func(t *testing.T) {
			runStoreContract(t, func(t *testing.T) Store {
				path := filepath.Join(t.TempDir(), "pmpcs.db")
				dsn := path
				if query != "" {
					dsn = "file:" + path + query
				}
				s, err := NewSQLiteStore(dsn)
				require.NoError(t, err)
				t.Cleanup(func() {
					_ = s.Close()
				})
				return s
			})
		})
	}
}

func TestWithImmediateTx(t *testing.T) {
	assert.Equal(t, ":memory:", withImmediateTx(":memory:"))
	assert.Equal(t, "file:x?mode=memory", withImmediateTx("file:x?mode=memory"))
	assert.Equal(t, "pmpcs.db?_txlock=immediate", withImmediateTx("pmpcs.db"))
	assert.Equal(t, "file:pmpcs.db?mode=rwc&_txlock=immediate", withImmediateTx("file:pmpcs.db?mode=rwc"))
	assert.Equal(t, "file:pmpcs.db?_txlock=deferred", withImmediateTx("file:pmpcs.db?_txlock=deferred"))
}

func TestSQLiteStore_MigratesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmpcs.db")

	// Schema written by the first prototype: messages had no created_at.
	legacy, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE sessions (
		session_id TEXT PRIMARY KEY,
		requested_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		preferences TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'pending',
		paid_amount TEXT NOT NULL DEFAULT '0',
		expiry_timestamp DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE messages (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload TEXT,
		transaction_proof TEXT
	)`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, testSession("sess_legacy"),
		&domain.Message{Type: domain.MessageTypeRequest, Payload: "req"}))
	msgs, err := s.ListMessages(ctx, "sess_legacy")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.WithinDuration(t, time.Now(), msgs[0].CreatedAt, time.Minute)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmpcs.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(ctx, testSession("sess_durable")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetSession(ctx, "sess_durable")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.SessionStatusPending, got.Status)
}

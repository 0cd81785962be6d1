package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/xiaot623/pmpcs/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn = withImmediateTx(dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	// Shared-cache connections fail with SQLITE_LOCKED instead of waiting on
	// the busy timeout, so they are serialized the same way.
	if isMemoryDSN(dsn) || strings.Contains(dsn, "cache=shared") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// withImmediateTx makes file databases take the write lock at BEGIN, so
// concurrent transactions wait on the busy timeout rather than failing when
// a read lock cannot be upgraded.
func withImmediateTx(dsn string) string {
	if isMemoryDSN(dsn) || strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}
	return dsn + "?_txlock=immediate"
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
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
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			transaction_proof TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Databases created by the first prototype have no created_at on messages.
	if err := s.ensureColumn("messages", "created_at", "ALTER TABLE messages ADD COLUMN created_at DATETIME"); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return storeErr("store.ping", s.db.PingContext(ctx))
}

// CreateSession inserts a new pending session and its initial messages in one transaction.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session, messages ...*domain.Message) error {
	prepareSession(session, messages)
	prefs, err := json.Marshal(session.Preferences)
	if err != nil {
		return storeErr("store.create_session", fmt.Errorf("failed to marshal preferences: %w", err))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("store.create_session", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, requested_amount, currency, recipient_id, description, preferences, status, paid_amount, expiry_timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.RequestedAmount.String(), session.Currency, session.RecipientID, session.Description,
		string(prefs), session.Status, session.PaidAmount.String(), session.ExpiryTimestamp.UTC(), session.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s already exists: %w", session.SessionID, domain.ErrConflict)
		}
		return storeErr("store.create_session", err)
	}
	for _, m := range messages {
		if err := insertMessage(ctx, tx, m); err != nil {
			return storeErr("store.create_session", err)
		}
	}
	return storeErr("store.create_session", tx.Commit())
}

// GetSession retrieves a session by ID. It returns (nil, nil) when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var requested, paid, prefs string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, requested_amount, currency, recipient_id, description, preferences, status, paid_amount, expiry_timestamp, created_at
		 FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &requested, &session.Currency, &session.RecipientID, &session.Description,
		&prefs, &session.Status, &paid, &session.ExpiryTimestamp, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("store.get_session", err)
	}
	if err := hydrateSession(&session, requested, paid, prefs); err != nil {
		return nil, storeErr("store.get_session", err)
	}
	return &session, nil
}

// UpdateSessionStatus applies one transition with a conditional UPDATE so a
// concurrent caller that already moved the session sees zero affected rows.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, u StatusUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	if u.Message != nil {
		prepareMessage(u.Message)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("store.update_session_status", err)
	}
	defer tx.Rollback()

	query := `UPDATE sessions SET status = ? WHERE session_id = ? AND status = ?`
	args := []interface{}{u.To, u.SessionID, u.From}
	if u.PaidAmount != nil {
		query = `UPDATE sessions SET status = ?, paid_amount = ? WHERE session_id = ? AND status = ?`
		args = []interface{}{u.To, u.PaidAmount.String(), u.SessionID, u.From}
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("store.update_session_status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("store.update_session_status", err)
	}
	if affected == 0 {
		var current domain.SessionStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE session_id = ?`, u.SessionID).Scan(&current)
		if err == sql.ErrNoRows {
			return notFound(u.SessionID)
		}
		if err != nil {
			return storeErr("store.update_session_status", err)
		}
		return conflict(u.SessionID, current, u.From)
	}

	if u.Message != nil {
		if err := insertMessage(ctx, tx, u.Message); err != nil {
			return storeErr("store.update_session_status", err)
		}
	}
	return storeErr("store.update_session_status", tx.Commit())
}

// AppendMessage inserts an immutable message for an existing session.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	prepareMessage(message)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("store.append_message", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, message.SessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return notFound(message.SessionID)
	}
	if err != nil {
		return storeErr("store.append_message", err)
	}
	if err := insertMessage(ctx, tx, message); err != nil {
		return storeErr("store.append_message", err)
	}
	return storeErr("store.append_message", tx.Commit())
}

// ListMessages retrieves messages for a session in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, type, payload, transaction_proof, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, storeErr("store.list_messages", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var payload, proof sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.Type, &payload, &proof, &createdAt); err != nil {
			return nil, storeErr("store.list_messages", err)
		}
		if payload.Valid {
			msg.Payload = payload.String
		}
		if proof.Valid {
			msg.TransactionProof = proof.String
		}
		if createdAt.Valid {
			msg.CreatedAt = createdAt.Time
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("store.list_messages", err)
	}
	return messages, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *domain.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, type, payload, transaction_proof, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.SessionID, m.Type, nullString(m.Payload), nullString(m.TransactionProof), m.CreatedAt.UTC())
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("message %s already exists: %w", m.MessageID, domain.ErrConflict)
	}
	return err
}

// hydrateSession parses the text-encoded columns shared by the SQL backends.
func hydrateSession(session *domain.Session, requested, paid, prefs string) error {
	var err error
	if session.RequestedAmount, err = decimal.NewFromString(requested); err != nil {
		return fmt.Errorf("invalid requested_amount %q: %w", requested, err)
	}
	if session.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return fmt.Errorf("invalid paid_amount %q: %w", paid, err)
	}
	session.Preferences = []domain.Preference{}
	if prefs != "" {
		if err := json.Unmarshal([]byte(prefs), &session.Preferences); err != nil {
			return fmt.Errorf("invalid preferences: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

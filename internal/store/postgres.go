package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xiaot623/pmpcs/internal/domain"
)

// PostgresStore implements Store using PostgreSQL. Transitions lock the
// session row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 0
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			requested_amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			preferences JSONB NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'pending',
			paid_amount NUMERIC NOT NULL DEFAULT 0,
			expiry_timestamp TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			type TEXT NOT NULL,
			payload TEXT,
			transaction_proof TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return storeErr("store.ping", s.pool.Ping(ctx))
}

// CreateSession inserts a new pending session and its initial messages in one transaction.
func (s *PostgresStore) CreateSession(ctx context.Context, session *domain.Session, messages ...*domain.Message) error {
	prepareSession(session, messages)
	prefs, err := json.Marshal(session.Preferences)
	if err != nil {
		return storeErr("store.create_session", fmt.Errorf("failed to marshal preferences: %w", err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("store.create_session", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (session_id, requested_amount, currency, recipient_id, description, preferences, status, paid_amount, expiry_timestamp, created_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6::jsonb, $7, $8::numeric, $9, $10)`,
		session.SessionID, session.RequestedAmount.String(), session.Currency, session.RecipientID, session.Description,
		string(prefs), string(session.Status), session.PaidAmount.String(), session.ExpiryTimestamp.UTC(), session.CreatedAt.UTC())
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("session %s already exists: %w", session.SessionID, domain.ErrConflict)
		}
		return storeErr("store.create_session", err)
	}
	for _, m := range messages {
		if err := insertPgMessage(ctx, tx, m); err != nil {
			return storeErr("store.create_session", err)
		}
	}
	return storeErr("store.create_session", tx.Commit(ctx))
}

// GetSession retrieves a session by ID. It returns (nil, nil) when absent.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var requested, paid, prefs, status string
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, requested_amount::text, currency, recipient_id, description, preferences::text, status, paid_amount::text, expiry_timestamp, created_at
		FROM sessions WHERE session_id = $1`, sessionID).Scan(
		&session.SessionID, &requested, &session.Currency, &session.RecipientID, &session.Description,
		&prefs, &status, &paid, &session.ExpiryTimestamp, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("store.get_session", err)
	}
	session.Status = domain.SessionStatus(status)
	if err := hydrateSession(&session, requested, paid, prefs); err != nil {
		return nil, storeErr("store.get_session", err)
	}
	return &session, nil
}

// UpdateSessionStatus locks the session row, checks the expected status and
// applies the transition with its message in one transaction.
func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, u StatusUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	if u.Message != nil {
		prepareMessage(u.Message)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("store.update_session_status", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM sessions WHERE session_id = $1 FOR UPDATE`, u.SessionID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(u.SessionID)
	}
	if err != nil {
		return storeErr("store.update_session_status", err)
	}
	if domain.SessionStatus(current) != u.From {
		return conflict(u.SessionID, domain.SessionStatus(current), u.From)
	}

	if u.PaidAmount != nil {
		_, err = tx.Exec(ctx, `UPDATE sessions SET status = $1, paid_amount = $2::numeric WHERE session_id = $3`,
			string(u.To), u.PaidAmount.String(), u.SessionID)
	} else {
		_, err = tx.Exec(ctx, `UPDATE sessions SET status = $1 WHERE session_id = $2`, string(u.To), u.SessionID)
	}
	if err != nil {
		return storeErr("store.update_session_status", err)
	}

	if u.Message != nil {
		if err := insertPgMessage(ctx, tx, u.Message); err != nil {
			return storeErr("store.update_session_status", err)
		}
	}
	return storeErr("store.update_session_status", tx.Commit(ctx))
}

// AppendMessage inserts an immutable message for an existing session.
func (s *PostgresStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	prepareMessage(message)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("store.append_message", err)
	}
	defer tx.Rollback(ctx)

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM sessions WHERE session_id = $1`, message.SessionID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(message.SessionID)
	}
	if err != nil {
		return storeErr("store.append_message", err)
	}
	if err := insertPgMessage(ctx, tx, message); err != nil {
		return storeErr("store.append_message", err)
	}
	return storeErr("store.append_message", tx.Commit(ctx))
}

// ListMessages retrieves messages for a session in append order.
func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, session_id, type, COALESCE(payload, ''), COALESCE(transaction_proof, ''), created_at
		FROM messages WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, storeErr("store.list_messages", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var msgType string
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msgType, &msg.Payload, &msg.TransactionProof, &msg.CreatedAt); err != nil {
			return nil, storeErr("store.list_messages", err)
		}
		msg.Type = domain.MessageType(msgType)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("store.list_messages", err)
	}
	return messages, nil
}

func insertPgMessage(ctx context.Context, tx pgx.Tx, m *domain.Message) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO messages (message_id, session_id, type, payload, transaction_proof, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)`,
		m.MessageID, m.SessionID, string(m.Type), m.Payload, m.TransactionProof, m.CreatedAt.UTC())
	if err != nil && isPgUniqueViolation(err) {
		return fmt.Errorf("message %s already exists: %w", m.MessageID, domain.ErrConflict)
	}
	return err
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Package store defines the session store contract and its backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xiaot623/pmpcs/internal/domain"
)

// Store defines durable persistence for sessions and their append-only message log.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session, messages ...*domain.Message) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateSessionStatus(ctx context.Context, update StatusUpdate) error

	// Message operations
	AppendMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// StatusUpdate is a single compare-and-set transition. Message, when set, is
// appended in the same atomic unit.
type StatusUpdate struct {
	SessionID  string
	From       domain.SessionStatus
	To         domain.SessionStatus
	PaidAmount *decimal.Decimal
	Message    *domain.Message
}

func (u StatusUpdate) validate() error {
	if u.SessionID == "" {
		return domain.NewError(domain.KindValidation, "store.update_session_status", "session_id is required")
	}
	if !domain.CanTransition(u.From, u.To) {
		return fmt.Errorf("illegal transition %s -> %s: %w", u.From, u.To, domain.ErrConflict)
	}
	if u.PaidAmount != nil && u.PaidAmount.IsNegative() {
		return domain.NewError(domain.KindValidation, "store.update_session_status", "paid_amount must not be negative")
	}
	if u.Message != nil && u.Message.SessionID != u.SessionID {
		return domain.NewError(domain.KindValidation, "store.update_session_status", "message belongs to another session")
	}
	return nil
}

// prepareSession fills the fields the store owns on creation.
func prepareSession(session *domain.Session, messages []*domain.Message) {
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}
	session.Status = domain.SessionStatusPending
	session.PaidAmount = decimal.Zero
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.Preferences == nil {
		session.Preferences = []domain.Preference{}
	}
	for _, m := range messages {
		prepareMessage(m)
		m.SessionID = session.SessionID
	}
}

func prepareMessage(m *domain.Message) {
	if m.MessageID == "" {
		m.MessageID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}

func notFound(sessionID string) error {
	return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
}

func conflict(sessionID string, current, from domain.SessionStatus) error {
	return fmt.Errorf("session %s is %s, expected %s: %w", sessionID, current, from, domain.ErrConflict)
}

// storeErr wraps backend failures. Not-found and conflict errors pass through.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return domain.WrapError(domain.KindStore, op, err)
}

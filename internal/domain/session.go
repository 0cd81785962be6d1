package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Preference is one offered settlement option, e.g. {"method": "BTC", "wallet": "addr"}.
type Preference map[string]string

// Method returns the payment rail named by the preference.
func (p Preference) Method() string {
	return p["method"]
}

// Session represents one payment negotiation.
type Session struct {
	SessionID       string          `json:"session_id"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Currency        string          `json:"currency"`
	RecipientID     string          `json:"recipient_id"`
	Description     string          `json:"description"`
	Preferences     []Preference    `json:"preferences"`
	Status          SessionStatus   `json:"status"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	ExpiryTimestamp time.Time       `json:"expiry_timestamp"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Expired reports whether the session is no longer actionable at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiryTimestamp)
}

// Message is an immutable audit record of one protocol step.
type Message struct {
	MessageID        string      `json:"message_id"`
	SessionID        string      `json:"session_id"`
	Type             MessageType `json:"type"`
	Payload          string      `json:"payload"` // encoded token
	TransactionProof string      `json:"transaction_proof,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// SessionEvent is pushed to session watchers after a change is persisted.
type SessionEvent struct {
	Type       EventType     `json:"type"`
	Ts         int64         `json:"ts"` // Unix milliseconds
	SessionID  string        `json:"session_id"`
	From       SessionStatus `json:"from,omitempty"`
	To         SessionStatus `json:"to"`
	PaidAmount string        `json:"paid_amount,omitempty"`
	MessageID  string        `json:"message_id,omitempty"`
}

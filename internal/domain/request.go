package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest carries the terms a payer asks for.
type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	RecipientID string          `json:"recipient_id"`
	Description string          `json:"description"`
	Preferences []Preference    `json:"preferences"`
	Expiry      time.Time       `json:"expiry"`
}

// PaymentRequestResponse is returned after a session is created.
type PaymentRequestResponse struct {
	EncodedMessage string `json:"encoded_message"`
	SessionID      string `json:"session_id"`
	MessageID      string `json:"message_id"`
}

// PaymentSent reports that the payee has sent funds.
type PaymentSent struct {
	SessionID        string          `json:"session_id"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	TransactionProof string          `json:"transaction_proof,omitempty"`
}

// PaymentSentResponse carries the confirmation token for the requester.
type PaymentSentResponse struct {
	ConfirmationMessage string          `json:"confirmation_message"`
	Status              SessionStatus   `json:"status"`
	PaidAmount          decimal.Decimal `json:"paid_amount"`
}

// PaymentReceived submits a confirmation token back to the requester.
type PaymentReceived struct {
	EncodedMessage string `json:"encoded_message"`
}

// PaymentReceivedResponse is the result of validating a confirmation token.
type PaymentReceivedResponse struct {
	ValidationResult bool          `json:"validation_result"`
	UpdatedStatus    SessionStatus `json:"updated_status"`
	SessionID        string        `json:"session_id"`
}

// ConfirmationPayload is the typed view of an inbound sent-confirmation token.
type ConfirmationPayload struct {
	SessionID        string `mapstructure:"session_id"`
	MessageID        string `mapstructure:"message_id"`
	Type             string `mapstructure:"type"`
	PaidAmount       string `mapstructure:"paid_amount"`
	TransactionProof string `mapstructure:"transaction_proof"`
}

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xiaot623/pmpcs/internal/codec"
	"github.com/xiaot623/pmpcs/internal/domain"
	"github.com/xiaot623/pmpcs/internal/metrics"
	"github.com/xiaot623/pmpcs/internal/policy"
	"github.com/xiaot623/pmpcs/internal/store"
)

const (
	opRequestPayment = "request_payment"
	opRecordSent     = "record_sent"
	opRecordReceived = "record_received"
	opGetStatus      = "get_status"
	opGetMessages    = "get_messages"
)

// RequestPayment opens a pending session and returns the encoded request token.
func (s *Service) RequestPayment(ctx context.Context, req domain.PaymentRequest) (resp *domain.PaymentRequestResponse, err error) {
	start := time.Now()
	sessionID := uuid.New().String()
	defer func() { s.observe(opRequestPayment, sessionID, start, err) }()

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.RecipientID = strings.TrimSpace(req.RecipientID)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if err := s.checkPolicy(ctx, req); err != nil {
		return nil, err
	}

	messageID := uuid.New().String()
	expiry := req.Expiry.UTC()
	token, err := encode(requestPayload(sessionID, messageID, req.Amount, req.Currency, req.Preferences, expiry))
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		SessionID:       sessionID,
		RequestedAmount: req.Amount,
		Currency:        req.Currency,
		RecipientID:     req.RecipientID,
		Description:     req.Description,
		Preferences:     req.Preferences,
		ExpiryTimestamp: expiry,
		CreatedAt:       s.now().UTC(),
	}
	message := &domain.Message{
		MessageID: messageID,
		Type:      domain.MessageTypeRequest,
		Payload:   token,
		CreatedAt: session.CreatedAt,
	}
	if err := s.store.CreateSession(ctx, session, message); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	metrics.RecordTransition("none", string(domain.SessionStatusPending))
	s.logger.Info().
		Str("session_id", sessionID).
		Str("amount", req.Amount.String()).
		Str("currency", req.Currency).
		Str("recipient_id", req.RecipientID).
		Msg("payment requested")
	s.publish(domain.SessionEvent{
		Type:      domain.EventTypeSessionCreated,
		SessionID: sessionID,
		To:        domain.SessionStatusPending,
		MessageID: messageID,
	})

	return &domain.PaymentRequestResponse{
		EncodedMessage: token,
		SessionID:      sessionID,
		MessageID:      messageID,
	}, nil
}

// RecordSent moves a pending session to sent and returns the confirmation token.
func (s *Service) RecordSent(ctx context.Context, req domain.PaymentSent) (resp *domain.PaymentSentResponse, err error) {
	start := time.Now()
	defer func() { s.observe(opRecordSent, req.SessionID, start, err) }()

	if strings.TrimSpace(req.SessionID) == "" {
		return nil, domain.NewError(domain.KindValidation, opRecordSent, "session_id is required")
	}
	if !req.PaidAmount.IsPositive() {
		return nil, domain.NewError(domain.KindValidation, opRecordSent, "paid_amount must be positive")
	}

	session, err := s.loadSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkActionable(session, domain.SessionStatusPending); err != nil {
		return nil, err
	}

	messageID := uuid.New().String()
	token, err := encode(sentPayload(session.SessionID, messageID, req.PaidAmount, req.TransactionProof))
	if err != nil {
		return nil, err
	}

	paid := req.PaidAmount
	err = s.store.UpdateSessionStatus(ctx, store.StatusUpdate{
		SessionID:  session.SessionID,
		From:       domain.SessionStatusPending,
		To:         domain.SessionStatusSent,
		PaidAmount: &paid,
		Message: &domain.Message{
			MessageID:        messageID,
			SessionID:        session.SessionID,
			Type:             domain.MessageTypeSent,
			Payload:          token,
			TransactionProof: req.TransactionProof,
			CreatedAt:        s.now().UTC(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record sent payment: %w", err)
	}

	s.transitioned(session.SessionID, domain.SessionStatusPending, domain.SessionStatusSent, &paid, messageID)
	return &domain.PaymentSentResponse{
		ConfirmationMessage: token,
		Status:              domain.SessionStatusSent,
		PaidAmount:          paid,
	}, nil
}

// RecordReceived validates a sent-confirmation token against the stored
// session and moves it to received.
func (s *Service) RecordReceived(ctx context.Context, req domain.PaymentReceived) (resp *domain.PaymentReceivedResponse, err error) {
	start := time.Now()
	var sessionID string
	defer func() { s.observe(opRecordReceived, sessionID, start, err) }()

	payload, err := decode(req.EncodedMessage)
	if err != nil {
		return nil, err
	}
	var confirmation domain.ConfirmationPayload
	if err := payload.Decode(&confirmation); err != nil {
		return nil, domain.WrapError(domain.KindDecode, opRecordReceived, err)
	}
	if v, ok := payload.Get("session_id"); !ok || v.Kind() != codec.KindString || confirmation.SessionID == "" {
		return nil, domain.NewError(domain.KindDecode, opRecordReceived, "token does not reference a session")
	}
	if confirmation.Type != "" && confirmation.Type != string(domain.MessageTypeSent) {
		return nil, domain.NewError(domain.KindDecode, opRecordReceived, fmt.Sprintf("token type %q is not a sent confirmation", confirmation.Type))
	}
	sessionID = confirmation.SessionID

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkActionable(session, domain.SessionStatusSent); err != nil {
		return nil, err
	}
	if confirmation.PaidAmount != "" {
		if claimed, perr := decimal.NewFromString(confirmation.PaidAmount); perr != nil || !claimed.Equal(session.PaidAmount) {
			s.logger.Warn().
				Str("session_id", sessionID).
				Str("token_paid_amount", confirmation.PaidAmount).
				Str("stored_paid_amount", session.PaidAmount.String()).
				Msg("confirmation amount differs from stored session")
		}
	}

	messageID := uuid.New().String()
	err = s.store.UpdateSessionStatus(ctx, store.StatusUpdate{
		SessionID: sessionID,
		From:      domain.SessionStatusSent,
		To:        domain.SessionStatusReceived,
		Message: &domain.Message{
			MessageID:        messageID,
			SessionID:        sessionID,
			Type:             domain.MessageTypeReceived,
			Payload:          strings.TrimSpace(req.EncodedMessage),
			TransactionProof: confirmation.TransactionProof,
			CreatedAt:        s.now().UTC(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record received payment: %w", err)
	}

	s.transitioned(sessionID, domain.SessionStatusSent, domain.SessionStatusReceived, nil, messageID)
	return &domain.PaymentReceivedResponse{
		ValidationResult: true,
		UpdatedStatus:    domain.SessionStatusReceived,
		SessionID:        sessionID,
	}, nil
}

func (s *Service) validateRequest(req domain.PaymentRequest) error {
	fail := func(msg string) error {
		return domain.NewError(domain.KindValidation, opRequestPayment, msg)
	}
	if !req.Amount.IsPositive() {
		return fail("amount must be positive")
	}
	if !isCurrencyCode(req.Currency) {
		return fail("currency must be a 3-letter code")
	}
	if req.RecipientID == "" {
		return fail("recipient_id is required")
	}
	if len(req.Preferences) == 0 {
		return fail("at least one payment preference is required")
	}
	for i, p := range req.Preferences {
		if strings.TrimSpace(p.Method()) == "" {
			return fail(fmt.Sprintf("preferences[%d]: method is required", i))
		}
	}
	if req.Expiry.IsZero() {
		return fail("expiry is required")
	}
	if !s.now().Before(req.Expiry) {
		return fail("expiry must be in the future")
	}
	return nil
}

func (s *Service) checkPolicy(ctx context.Context, req domain.PaymentRequest) error {
	if s.policyEngine == nil {
		return nil
	}
	methods := make([]string, 0, len(req.Preferences))
	for _, p := range req.Preferences {
		methods = append(methods, p.Method())
	}
	decision, err := s.policyEngine.Evaluate(ctx, policy.Input{
		Amount:            req.Amount,
		Currency:          req.Currency,
		RecipientID:       req.RecipientID,
		Methods:           methods,
		MaxAmount:         s.limits.MaxAmount,
		AllowedCurrencies: s.limits.AllowedCurrencies,
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if !decision.Allowed() {
		msg := "blocked by policy"
		if len(decision.Reasons) > 0 {
			msg += ": " + strings.Join(decision.Reasons, "; ")
		}
		return domain.NewError(domain.KindValidation, opRequestPayment, msg)
	}
	return nil
}

// checkActionable applies the expiry and expected-status preconditions. The
// store re-checks the status atomically; this only rejects early.
func (s *Service) checkActionable(session *domain.Session, want domain.SessionStatus) error {
	if session.Expired(s.now()) {
		return fmt.Errorf("session %s expired at %s: %w", session.SessionID, session.ExpiryTimestamp.Format(time.RFC3339), domain.ErrConflict)
	}
	if session.Status != want {
		return fmt.Errorf("session %s is %s, expected %s: %w", session.SessionID, session.Status, want, domain.ErrConflict)
	}
	return nil
}

func isCurrencyCode(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func requestPayload(sessionID, messageID string, amount decimal.Decimal, currency string, prefs []domain.Preference, expiry time.Time) codec.Value {
	list := make([]codec.Value, 0, len(prefs))
	for _, p := range prefs {
		list = append(list, preferenceValue(p))
	}
	return codec.Object(codec.NewMap().
		Set("session_id", codec.String(sessionID)).
		Set("message_id", codec.String(messageID)).
		Set("type", codec.String(string(domain.MessageTypeRequest))).
		Set("amount", codec.Decimal(amount)).
		Set("currency", codec.String(currency)).
		Set("preferences", codec.List(list...)).
		Set("expiry", codec.String(expiry.Format(time.RFC3339Nano))))
}

func sentPayload(sessionID, messageID string, paid decimal.Decimal, proof string) codec.Value {
	m := codec.NewMap().
		Set("session_id", codec.String(sessionID)).
		Set("message_id", codec.String(messageID)).
		Set("type", codec.String(string(domain.MessageTypeSent))).
		Set("paid_amount", codec.Decimal(paid))
	if proof != "" {
		m.Set("transaction_proof", codec.String(proof))
	}
	return codec.Object(m)
}

// preferenceValue keeps "method" first and the remaining keys sorted.
func preferenceValue(p domain.Preference) codec.Value {
	m := codec.NewMap()
	if method, ok := p["method"]; ok {
		m.Set("method", codec.String(method))
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		if k != "method" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, codec.String(p[k]))
	}
	return codec.Object(m)
}

func encode(v codec.Value) (string, error) {
	token, err := codec.Encode(v)
	metrics.RecordCodec("encode", err)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return token, nil
}

func decode(token string) (codec.Value, error) {
	v, err := codec.Decode(token)
	metrics.RecordCodec("decode", err)
	return v, err
}

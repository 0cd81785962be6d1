// Package service implements the payment session protocol engine.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/xiaot623/pmpcs/internal/domain"
	"github.com/xiaot623/pmpcs/internal/metrics"
	"github.com/xiaot623/pmpcs/internal/policy"
	"github.com/xiaot623/pmpcs/internal/store"
)

// Publisher receives session events after they are persisted.
type Publisher interface {
	Publish(event domain.SessionEvent)
}

// PolicyEvaluator decides whether request terms may open a session.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error)
}

// Limits are passed to the policy with every request.
type Limits struct {
	MaxAmount         decimal.Decimal
	AllowedCurrencies []string
}

type Service struct {
	store        store.Store
	policyEngine PolicyEvaluator
	publisher    Publisher
	limits       Limits
	now          func() time.Time
	logger       zerolog.Logger
}

type Option func(*Service)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithPublisher sets where session events are sent.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithLimits(l Limits) Option {
	return func(s *Service) {
		s.limits = l
	}
}

// New creates the engine. policyEngine may be nil, in which case only
// structural validation applies.
func New(store store.Store, policyEngine PolicyEvaluator, opts ...Option) *Service {
	s := &Service{
		store:        store,
		policyEngine: policyEngine,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(event domain.SessionEvent) {
	if s.publisher == nil {
		return
	}
	event.Ts = s.now().UnixMilli()
	s.publisher.Publish(event)
}

// observe records duration and, for failures, the rejection kind.
func (s *Service) observe(op, sessionID string, start time.Time, err error) {
	metrics.ObserveOperation(op, time.Since(start))
	if err == nil {
		return
	}
	kind := domain.KindOf(err)
	metrics.RecordRejection(op, string(kind))
	event := s.logger.Debug()
	if kind == domain.KindStore || kind == domain.KindUnknown {
		event = s.logger.Error()
	}
	event.Err(err).Str("op", op).Str("session_id", sessionID).Str("kind", string(kind)).Msg("operation rejected")
}

func (s *Service) transitioned(sessionID string, from, to domain.SessionStatus, paid *decimal.Decimal, messageID string) {
	metrics.RecordTransition(string(from), string(to))
	ev := s.logger.Info().Str("session_id", sessionID).Str("from", string(from)).Str("to", string(to))
	event := domain.SessionEvent{
		Type:      domain.EventTypeSessionTransition,
		SessionID: sessionID,
		From:      from,
		To:        to,
		MessageID: messageID,
	}
	if paid != nil {
		event.PaidAmount = paid.String()
		ev = ev.Str("paid_amount", event.PaidAmount)
	}
	ev.Msg("session transitioned")
	s.publish(event)
}

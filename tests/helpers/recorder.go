package helpers

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xiaot623/pmpcs/internal/domain"
)

// EventRecorder collects published session events.
type EventRecorder struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (r *EventRecorder) Publish(event domain.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *EventRecorder) Events() []domain.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionEvent, len(r.events))
	copy(out, r.events)
	return out
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

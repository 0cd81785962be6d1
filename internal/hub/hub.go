// Package hub fans session events out to per-session subscribers.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xiaot623/pmpcs/internal/domain"
)

const defaultBufferSize = 64

// Subscriber receives the events of one session on Send. The hub closes Send
// when the subscriber is removed.
type Subscriber struct {
	ID        string
	SessionID string
	Send      chan []byte
}

// Hub manages all session subscribers.
type Hub struct {
	// Subscribers indexed by subscriber ID
	subscribers map[string]*Subscriber

	// Sessions maps session_id to set of subscriber IDs
	sessions map[string]map[string]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan *SessionMessage
	done       chan struct{}

	bufferSize int
	logger     zerolog.Logger
	mu         sync.RWMutex
}

// SessionMessage is used to broadcast a message to a session.
type SessionMessage struct {
	SessionID string
	Data      []byte
}

type Option func(*Hub)

// WithBufferSize sets the per-subscriber send buffer.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// New creates a new Hub. Call Run to start delivery.
func New(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[string]*Subscriber),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan *SessionMessage, 256),
		done:        make(chan struct{}),
		bufferSize:  defaultBufferSize,
		logger:      logger.With().Str("component", "hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers messages until ctx is done, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID] = sub
			if h.sessions[sub.SessionID] == nil {
				h.sessions[sub.SessionID] = make(map[string]bool)
			}
			h.sessions[sub.SessionID][sub.ID] = true
			h.mu.Unlock()
			h.logger.Debug().Str("subscriber_id", sub.ID).Str("session_id", sub.SessionID).Msg("subscriber registered")

		case sub := <-h.unregister:
			h.remove(sub)

		case msg := <-h.broadcast:
			var slow []*Subscriber
			h.mu.RLock()
			for id := range h.sessions[msg.SessionID] {
				sub, ok := h.subscribers[id]
				if !ok {
					continue
				}
				select {
				case sub.Send <- msg.Data:
				default:
					slow = append(slow, sub)
				}
			}
			h.mu.RUnlock()
			// Buffer full, drop the subscriber
			for _, sub := range slow {
				h.logger.Warn().Str("subscriber_id", sub.ID).Str("session_id", sub.SessionID).Msg("subscriber buffer full, dropping")
				h.remove(sub)
			}
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	if ids := h.sessions[sub.SessionID]; ids != nil {
		delete(ids, sub.ID)
		if len(ids) == 0 {
			delete(h.sessions, sub.SessionID)
		}
	}
	close(sub.Send)
	h.logger.Debug().Str("subscriber_id", sub.ID).Msg("subscriber unregistered")
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		close(sub.Send)
		delete(h.subscribers, id)
	}
	h.sessions = make(map[string]map[string]bool)
}

// Subscribe registers a subscriber for sessionID. After the hub stops the
// returned subscriber's channel is already closed.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Send:      make(chan []byte, h.bufferSize),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.Send)
	}
	return sub
}

// Unsubscribe removes a subscriber. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Broadcast queues data for every subscriber of a session. It never blocks:
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	select {
	case h.broadcast <- &SessionMessage{SessionID: sessionID, Data: data}:
	default:
		h.logger.Warn().Str("session_id", sessionID).Msg("broadcast queue full, dropping message")
	}
}

// Publish broadcasts a session event as JSON.
func (h *Hub) Publish(event domain.SessionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to marshal session event")
		return
	}
	h.Broadcast(event.SessionID, data)
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// SessionCount returns the number of sessions with subscribers.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HasSubscribers checks if a session has any active subscribers.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids, ok := h.sessions[sessionID]
	return ok && len(ids) > 0
}

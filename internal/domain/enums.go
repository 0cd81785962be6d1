// Package domain defines the core domain models for the payment session protocol.
package domain

// SessionStatus represents the status of a payment session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusSent     SessionStatus = "sent"
	SessionStatusReceived SessionStatus = "received"
)

// Next returns the only status a session may move to from s.
// Received is terminal.
func (s SessionStatus) Next() (SessionStatus, bool) {
	switch s {
	case SessionStatusPending:
		return SessionStatusSent, true
	case SessionStatusSent:
		return SessionStatusReceived, true
	default:
		return "", false
	}
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to SessionStatus) bool {
	next, ok := from.Next()
	return ok && next == to
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusSent, SessionStatusReceived:
		return true
	}
	return false
}

// MessageType represents the protocol step that produced a message.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeSent     MessageType = "sent"
	MessageTypeReceived MessageType = "received"
)

// EventType represents the type of a session event pushed to watchers.
type EventType string

const (
	EventTypeSessionCreated    EventType = "session_created"
	EventTypeSessionTransition EventType = "session_transition"
	// Sent once to a new watcher with the current state.
	EventTypeSessionSnapshot EventType = "session_snapshot"
)

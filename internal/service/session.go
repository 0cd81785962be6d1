package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/pmpcs/internal/domain"
)

// GetStatus returns the full session snapshot.
func (s *Service) GetStatus(ctx context.Context, sessionID string) (session *domain.Session, err error) {
	start := time.Now()
	defer func() { s.observe(opGetStatus, sessionID, start, err) }()

	return s.loadSession(ctx, sessionID)
}

// GetMessages returns the session's message log in append order.
func (s *Service) GetMessages(ctx context.Context, sessionID string) (messages []domain.Message, err error) {
	start := time.Now()
	defer func() { s.observe(opGetMessages, sessionID, start, err) }()

	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	messages, err = s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("empty session id: %w", domain.ErrNotFound)
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return session, nil
}

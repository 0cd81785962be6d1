package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"
	"github.com/xiaot623/pmpcs/internal/domain"
)

const defaultRedisPrefix = "pmpcs:"

// RedisStore implements Store using Redis. A session is a JSON string key and
// its messages are a list appended with RPUSH.
type RedisStore struct {
	client     *backend.Client
	prefix     string
	maxRetries int
}

type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithMaxRetries bounds optimistic transaction retries under contention.
func WithMaxRetries(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewRedisStore creates a new Redis store with options.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

// NewRedisStoreFromClient creates a new Redis store from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client:     client,
		prefix:     defaultRedisPrefix,
		maxRetries: 10,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *RedisStore) messagesKey(sessionID string) string {
	return s.prefix + "messages:" + sessionID
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return storeErr("store.ping", s.client.Ping(ctx).Err())
}

// CreateSession stores a new pending session and its initial messages.
func (s *RedisStore) CreateSession(ctx context.Context, session *domain.Session, messages ...*domain.Message) error {
	prepareSession(session, messages)
	data, err := json.Marshal(session)
	if err != nil {
		return storeErr("store.create_session", fmt.Errorf("failed to marshal session: %w", err))
	}
	encoded, err := marshalMessages(messages)
	if err != nil {
		return storeErr("store.create_session", err)
	}

	key := s.sessionKey(session.SessionID)
	return s.watch(ctx, "store.create_session", func(tx *backend.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("session %s already exists: %w", session.SessionID, domain.ErrConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if len(encoded) > 0 {
				pipe.RPush(ctx, s.messagesKey(session.SessionID), encoded...)
			}
			return nil
		})
		return err
	}, key)
}

// GetSession retrieves a session by ID. It returns (nil, nil) when absent.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	val, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, storeErr("store.get_session", err)
	}

	var session domain.Session
	if err := json.Unmarshal(val, &session); err != nil {
		return nil, storeErr("store.get_session", fmt.Errorf("failed to unmarshal session: %w", err))
	}
	return &session, nil
}

// UpdateSessionStatus applies one transition under WATCH, so a concurrent
// writer forces a retry that then observes the new status.
func (s *RedisStore) UpdateSessionStatus(ctx context.Context, u StatusUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	var encoded []interface{}
	if u.Message != nil {
		prepareMessage(u.Message)
		var err error
		if encoded, err = marshalMessages([]*domain.Message{u.Message}); err != nil {
			return storeErr("store.update_session_status", err)
		}
	}

	key := s.sessionKey(u.SessionID)
	return s.watch(ctx, "store.update_session_status", func(tx *backend.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, backend.Nil) {
			return notFound(u.SessionID)
		}
		if err != nil {
			return err
		}
		var session domain.Session
		if err := json.Unmarshal(val, &session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if session.Status != u.From {
			return conflict(u.SessionID, session.Status, u.From)
		}

		session.Status = u.To
		if u.PaidAmount != nil {
			session.PaidAmount = *u.PaidAmount
		}
		data, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if len(encoded) > 0 {
				pipe.RPush(ctx, s.messagesKey(u.SessionID), encoded...)
			}
			return nil
		})
		return err
	}, key)
}

// AppendMessage pushes an immutable message for an existing session.
func (s *RedisStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	prepareMessage(message)
	encoded, err := marshalMessages([]*domain.Message{message})
	if err != nil {
		return storeErr("store.append_message", err)
	}

	key := s.sessionKey(message.SessionID)
	return s.watch(ctx, "store.append_message", func(tx *backend.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound(message.SessionID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.RPush(ctx, s.messagesKey(message.SessionID), encoded...)
			return nil
		})
		return err
	}, key)
}

// ListMessages retrieves messages for a session in append order.
func (s *RedisStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	vals, err := s.client.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, storeErr("store.list_messages", err)
	}

	messages := make([]domain.Message, 0, len(vals))
	for _, v := range vals {
		var msg domain.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return nil, storeErr("store.list_messages", fmt.Errorf("failed to unmarshal message: %w", err))
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// watch runs fn as an optimistic transaction, retrying when a watched key
// changed before EXEC.
func (s *RedisStore) watch(ctx context.Context, op string, fn func(*backend.Tx) error, keys ...string) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return storeErr(op, err)
	}
	return storeErr(op, fmt.Errorf("transaction aborted after %d retries", s.maxRetries))
}

func marshalMessages(messages []*domain.Message) ([]interface{}, error) {
	out := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/pmpcs/internal/domain"
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session := testSession("sess_create")
		request := &domain.Message{Type: domain.MessageTypeRequest, Payload: "token-1"}
		require.NoError(t, s.CreateSession(ctx, session, request))
		assert.Equal(t, "sess_create", request.SessionID)
		assert.NotEmpty(t, request.MessageID)

		got, err := s.GetSession(ctx, "sess_create")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.SessionStatusPending, got.Status)
		assert.True(t, got.RequestedAmount.Equal(decimal.RequireFromString("100.00")))
		assert.True(t, got.PaidAmount.IsZero())
		assert.Equal(t, "USD", got.Currency)
		assert.Equal(t, "merchant_abc", got.RecipientID)
		assert.Equal(t, "Order 42", got.Description)
		require.Len(t, got.Preferences, 1)
		assert.Equal(t, "BTC", got.Preferences[0].Method())
		assert.Equal(t, "addr", got.Preferences[0]["wallet"])
		assert.WithinDuration(t, session.ExpiryTimestamp, got.ExpiryTimestamp, time.Millisecond)

		msgs, err := s.ListMessages(ctx, "sess_create")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, domain.MessageTypeRequest, msgs[0].Type)
		assert.Equal(t, "token-1", msgs[0].Payload)
		assert.Equal(t, request.MessageID, msgs[0].MessageID)
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, testSession("sess_dup")))
		err := s.CreateSession(ctx, testSession("sess_dup"))
		assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
	})

	t.Run("unknown session is nil without error", func(t *testing.T) {
		s := newStore(t)
		got, err := s.GetSession(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, got)

		msgs, err := s.ListMessages(context.Background(), "missing")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("full lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, testSession("sess_life"),
			&domain.Message{Type: domain.MessageTypeRequest, Payload: "req"}))

		paid := decimal.RequireFromString("100.00")
		err := s.UpdateSessionStatus(ctx, StatusUpdate{
			SessionID:  "sess_life",
			From:       domain.SessionStatusPending,
			To:         domain.SessionStatusSent,
			PaidAmount: &paid,
			Message:    &domain.Message{SessionID: "sess_life", Type: domain.MessageTypeSent, Payload: "sent", TransactionProof: "tx_1"},
		})
		require.NoError(t, err)

		got, err := s.GetSession(ctx, "sess_life")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusSent, got.Status)
		assert.True(t, got.PaidAmount.Equal(paid))

		// A second pending->sent attempt must not apply.
		err = s.UpdateSessionStatus(ctx, StatusUpdate{
			SessionID: "sess_life",
			From:      domain.SessionStatusPending,
			To:        domain.SessionStatusSent,
		})
		assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)

		err = s.UpdateSessionStatus(ctx, StatusUpdate{
			SessionID: "sess_life",
			From:      domain.SessionStatusSent,
			To:        domain.SessionStatusReceived,
			Message:   &domain.Message{SessionID: "sess_life", Type: domain.MessageTypeReceived, Payload: "sent"},
		})
		require.NoError(t, err)

		got, err = s.GetSession(ctx, "sess_life")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusReceived, got.Status)
		assert.True(t, got.PaidAmount.Equal(paid), "paid amount survives the last transition")

		msgs, err := s.ListMessages(ctx, "sess_life")
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, domain.MessageTypeRequest, msgs[0].Type)
		assert.Equal(t, domain.MessageTypeSent, msgs[1].Type)
		assert.Equal(t, "tx_1", msgs[1].TransactionProof)
		assert.Equal(t, domain.MessageTypeReceived, msgs[2].Type)
	})

	t.Run("transition on unknown session", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateSessionStatus(context.Background(), StatusUpdate{
			SessionID: "missing",
			From:      domain.SessionStatusPending,
			To:        domain.SessionStatusSent,
		})
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	})

	t.Run("illegal edges are rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, testSession("sess_edge")))

		for _, u := range []StatusUpdate{
			{SessionID: "sess_edge", From: domain.SessionStatusPending, To: domain.SessionStatusReceived},
			{SessionID: "sess_edge", From: domain.SessionStatusSent, To: domain.SessionStatusPending},
			{SessionID: "sess_edge", From: domain.SessionStatusReceived, To: domain.SessionStatusSent},
		} {
			err := s.UpdateSessionStatus(ctx, u)
			assert.True(t, errors.Is(err, domain.ErrConflict), "%s -> %s: got %v", u.From, u.To, err)
		}

		// Skipping a step is a conflict even when the expected status matches.
		err := s.UpdateSessionStatus(ctx, StatusUpdate{SessionID: "sess_edge", From: domain.SessionStatusSent, To: domain.SessionStatusReceived})
		assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)

		got, err := s.GetSession(ctx, "sess_edge")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusPending, got.Status)
	})

	t.Run("negative paid amount is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, testSession("sess_neg")))

		neg := decimal.RequireFromString("-1")
		err := s.UpdateSessionStatus(ctx, StatusUpdate{
			SessionID:  "sess_neg",
			From:       domain.SessionStatusPending,
			To:         domain.SessionStatusSent,
			PaidAmount: &neg,
		})
		assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
	})

	t.Run("append message", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, testSession("sess_append")))

		require.NoError(t, s.AppendMessage(ctx, &domain.Message{SessionID: "sess_append", Type: domain.MessageTypeSent, Payload: "a"}))
		require.NoError(t, s.AppendMessage(ctx, &domain.Message{SessionID: "sess_append", Type: domain.MessageTypeReceived, Payload: "b"}))

		msgs, err := s.ListMessages(ctx, "sess_append")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "a", msgs[0].Payload)
		assert.Equal(t, "b", msgs[1].Payload)

		err = s.AppendMessage(ctx, &domain.Message{SessionID: "missing", Type: domain.MessageTypeSent})
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	})

	t.Run("concurrent transitions apply once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, testSession("sess_race")))

		const workers = 16
		var wg sync.WaitGroup
		var successes, conflicts int32
		var winner atomic.Value
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				paid := decimal.NewFromInt(int64(i + 1))
				err := s.UpdateSessionStatus(ctx, StatusUpdate{
					SessionID:  "sess_race",
					From:       domain.SessionStatusPending,
					To:         domain.SessionStatusSent,
					PaidAmount: &paid,
					Message:    &domain.Message{SessionID: "sess_race", Type: domain.MessageTypeSent},
				})
				switch {
				case err == nil:
					atomic.AddInt32(&successes, 1)
					winner.Store(paid)
				case errors.Is(err, domain.ErrConflict):
					atomic.AddInt32(&conflicts, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes)
		assert.Equal(t, int32(workers-1), conflicts)

		got, err := s.GetSession(ctx, "sess_race")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusSent, got.Status)
		assert.True(t, got.PaidAmount.Equal(winner.Load().(decimal.Decimal)))

		msgs, err := s.ListMessages(ctx, "sess_race")
		require.NoError(t, err)
		assert.Len(t, msgs, 1, "losing transitions must not append messages")
	})

	t.Run("concurrent creates all succeed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers = 16
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("sess_create_%d", i)
				errs[i] = s.CreateSession(ctx, testSession(id), &domain.Message{Type: domain.MessageTypeRequest, Payload: id})
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			require.NoError(t, err, "worker %d", i)
			got, err := s.GetSession(ctx, fmt.Sprintf("sess_create_%d", i))
			require.NoError(t, err)
			require.NotNil(t, got)
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func testSession(id string) *domain.Session {
	return &domain.Session{
		SessionID:       id,
		RequestedAmount: decimal.RequireFromString("100.00"),
		Currency:        "USD",
		RecipientID:     "merchant_abc",
		Description:     "Order 42",
		Preferences:     []domain.Preference{{"method": "BTC", "wallet": "addr"}},
		ExpiryTimestamp: time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond),
	}
}

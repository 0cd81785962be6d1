package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	err := NewError(KindValidation, "request_payment", "amount must be positive")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "request_payment: amount must be positive", err.Error())

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, errors.Is(wrapped, ErrValidation))
	assert.Equal(t, KindValidation, KindOf(wrapped))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("zlib: invalid header")
	err := WrapError(KindDecode, "record_received", cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrDecode))
	assert.Equal(t, "record_received: zlib: invalid header", err.Error())
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"sentinel", fmt.Errorf("session x: %w", ErrNotFound), KindNotFound},
		{"conflict", fmt.Errorf("session x is sent: %w", ErrConflict), KindConflict},
		{"typed", NewError(KindStore, "store.ping", "down"), KindStore},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

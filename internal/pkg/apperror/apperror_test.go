package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindNotFound, "trip.Get", "trip %s not found", "abc")
	assert.Equal(t, "trip.Get: trip abc not found", err.Error())

	wrapped := Wrap(KindNetworkError, "claim", errors.New("connection reset"))
	assert.Equal(t, "claim: network_error: connection reset", wrapped.Error())
}

func TestErrorsIs(t *testing.T) {
	err := fmt.Errorf("usecase: %w", New(KindAlreadyTaken, "claim", "trip already claimed"))

	assert.True(t, errors.Is(err, ErrAlreadyTaken))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", New(KindValidation, "", "bad"), KindValidation},
		{"wrapped typed", fmt.Errorf("x: %w", Wrap(KindUnavailable, "db", errors.New("down"))), KindUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindTimeout},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestInvalidTransitionIsValidation(t *testing.T) {
	err := New(KindInvalidTransition, "advance", "cannot move")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(New(KindValidation, "", "x"), ErrInvalidTransition))
}

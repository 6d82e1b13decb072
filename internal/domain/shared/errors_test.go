package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRejectedTransition(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrSessionFinished, true},
		{ErrStaleAnswer, true},
		{ErrOutOfOrder, true},
		{ErrSessionAlreadyActive, true},
		{ErrMaxAttemptsReached, true},
		{fmt.Errorf("submit: %w", ErrStaleAnswer), true},
		{ErrUnknownQuestion, false},
		{ErrSessionNotFound, false},
		{ErrBankNotFound, false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRejectedTransition(tt.err), "%v", tt.err)
	}
}

package usecase

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("dynamo down")
	err := newError(ErrorInternal, "goal_insert_error", cause)
	require.Equal(t, "usecase: INTERNAL_ERROR (goal_insert_error): dynamo down", err.Error())
	require.ErrorIs(t, err, cause)

	require.Equal(t, "usecase: NOT_FOUND (goal_not_found)", newError(ErrorNotFound, "goal_not_found", nil).Error())

	var nilErr *Error
	require.Empty(t, nilErr.Error())
	require.NoError(t, nilErr.Unwrap())
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrorConflict, CodeOf(newError(ErrorConflict, "conversation_busy", nil)))
	require.Equal(t, ErrorRateLimited, CodeOf(fmt.Errorf("wrapped: %w", newError(ErrorRateLimited, "llm_rate_limited", nil))))
	require.Equal(t, ErrorInternal, CodeOf(errors.New("boom")))
	require.Equal(t, ErrorInternal, CodeOf(&Error{}))
}

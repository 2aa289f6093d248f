package caseflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewPersistenceError(cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "persistence_error")

	var werr *Error
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &werr))
	require.Equal(t, ErrorTypePersistence, werr.Type)
}

func TestPreconditionErrorCarriesMissingFields(t *testing.T) {
	err := NewPreconditionError("transcript too short", "raw_transcript")
	require.Equal(t, []string{"raw_transcript"}, err.Missing)
	require.Equal(t, ErrorTypePrecondition, err.Type)
}

func TestClassifyError(t *testing.T) {
	t.Run("typed errors pass through", func(t *testing.T) {
		err := NewOracleError("garbled response")
		require.Equal(t, ErrorTypeOracle, ClassifyError(err).Type)
	})

	t.Run("database errors classify as persistence", func(t *testing.T) {
		err := fmt.Errorf("database connection lost")
		require.Equal(t, ErrorTypePersistence, ClassifyError(err).Type)
	})

	t.Run("unknown errors default to executor", func(t *testing.T) {
		err := fmt.Errorf("something odd")
		require.Equal(t, ErrorTypeExecutor, ClassifyError(err).Type)
	})
}

func TestIsRecoverable(t *testing.T) {
	require.True(t, IsRecoverable(NewPreconditionError("missing input")))
	require.True(t, IsRecoverable(NewOracleError("bad response")))
	require.True(t, IsRecoverable(NewLoopGuardError("ceiling")))
	require.True(t, IsRecoverable(fmt.Errorf("plain error")))
	require.False(t, IsRecoverable(NewPersistenceError(fmt.Errorf("disk full"))))
}

func TestMatchesErrorType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewLoopGuardError("ceiling reached"))
	require.True(t, MatchesErrorType(err, ErrorTypeLoopGuard))
	require.False(t, MatchesErrorType(err, ErrorTypeOracle))
}

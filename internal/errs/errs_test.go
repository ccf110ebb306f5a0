package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesSameKind(t *testing.T) {
	err := NewNotFound("decision missing")
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, Conflict))
}

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := NewInvalidInput("bad tier value")
	wrapped := fmt.Errorf("upsert: %w", base)
	require.Equal(t, InvalidInput, KindOf(wrapped))
	require.Equal(t, Kind(""), KindOf(errors.New("plain error")))
}

func TestRemoteUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewRemoteUnavailable("embed store", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection refused")
	require.Equal(t, RemoteUnavailable, KindOf(err))
}

func TestErrorsIsCrossInstanceSameKind(t *testing.T) {
	a := NewConflict("decision A")
	b := NewConflict("decision B")
	require.True(t, errors.Is(a, b))

	c := NewRetentionExpired("scratchpad entry expired")
	require.False(t, errors.Is(a, c))
}

package concord

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResult_SuccessAndFailure(t *testing.T) {
	s := Success(42)
	require.True(t, s.IsSuccess())
	v, ok := s.Value()
	require.True(t, ok)
	require.Equal(t, 42, v)
	require.NoError(t, s.Err())

	v2, err := s.Unwrap()
	require.NoError(t, err)
	require.Equal(t, 42, v2)

	failErr := errors.New("bad")
	f := Failure[int](failErr)
	require.False(t, f.IsSuccess())
	_, ok = f.Value()
	require.False(t, ok)
	require.Equal(t, failErr, f.Err())

	_, err = f.Unwrap()
	require.Equal(t, failErr, err)
}

func TestResult_FailureRequiresNonNilError(t *testing.T) {
	require.Panics(t, func() { Failure[int](nil) })
}

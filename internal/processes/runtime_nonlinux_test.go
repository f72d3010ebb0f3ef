//go:build !linux

package processes

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateTimeTokenIdentifiesIncarnation(t *testing.T) {
	t.Parallel()

	token, err := ReadStartToken(os.Getpid())
	require.NoError(t, err)
	require.NotZero(t, token)

	state := InspectIncarnation(Incarnation{PID: os.Getpid(), StartToken: token})
	require.Equal(t, StatusRunning, state.Status)
	require.Equal(t, token, state.ObservedStartToken)

	// Same PID, different creation time: a reused PID.
	state = InspectIncarnation(Incarnation{PID: os.Getpid(), StartToken: token - 1000})
	require.Equal(t, StatusStale, state.Status)
	require.False(t, state.Running)
}

func TestOpenRejectsInvalidPID(t *testing.T) {
	t.Parallel()

	_, err := open(0)
	require.ErrorIs(t, err, errInvalidPID)
	_, err = ReadStartToken(-1)
	require.ErrorIs(t, err, errInvalidPID)
}

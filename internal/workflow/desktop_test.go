package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDesktopIsExclusive(t *testing.T) {
	t.Parallel()

	d := NewDesktop()
	release, err := d.Acquire(t.Context())
	require.NoError(t, err)

	_, ok := d.TryAcquire()
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	again, ok := d.TryAcquire()
	require.True(t, ok)
	again()
}

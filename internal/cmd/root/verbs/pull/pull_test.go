package pull

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/tasksource"
	"github.com/steamok/usmapctl/internal/taskstore"
	cmdtest "github.com/steamok/usmapctl/test/cmd"
	"github.com/stretchr/testify/require"
)

func newHelper(t *testing.T) *cmdtest.MockHelper {
	t.Helper()
	c := &cobra.Command{Use: "pull"}
	return &cmdtest.MockHelper{
		GetCmdMock:     func() *cobra.Command { return c },
		GetContextMock: t.Context,
	}
}

func TestPullInsertsOnlyNewTasks(t *testing.T) {
	t.Parallel()

	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	source := tasksource.SourceFunc(func(context.Context) ([]taskstore.Candidate, error) {
		return []taskstore.Candidate{
			{ID: "1042", DisplayName: "Lantern Keep"},
			{ID: "1043", DisplayName: "灯塔守望者"},
		}, nil
	})
	helper := newHelper(t)

	inserted, err := Pull(helper, source, store)
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	inserted, err = Pull(helper, source, store)
	require.NoError(t, err)
	require.Empty(t, inserted)

	all, err := store.List(t.Context(), taskstore.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestPullSurfacesSourceErrors(t *testing.T) {
	t.Parallel()

	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	source := tasksource.SourceFunc(func(context.Context) ([]taskstore.Candidate, error) {
		return nil, errors.New("service unavailable")
	})

	_, err = Pull(newHelper(t), source, store)
	require.ErrorContains(t, err, "failed to fetch tasks")
	require.ErrorContains(t, err, "service unavailable")
}

func TestRenderText(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	require.NoError(t, renderText(&out, nil))
	require.Equal(t, "No new tasks.\n", out.String())

	out.Reset()
	require.NoError(t, renderText(&out, []taskstore.Task{{ID: "7", DisplayName: "Harbor"}}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, "Inserted 1 new task(s)", lines[0])
	require.Equal(t, []string{"7", "Harbor"}, strings.Fields(lines[2]))
}

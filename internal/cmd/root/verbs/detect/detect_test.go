package detect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/candidate"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/iostreams"
	"github.com/steamok/usmapctl/internal/processes"
	cmdtest "github.com/steamok/usmapctl/test/cmd"
	configtest "github.com/steamok/usmapctl/test/config"
	"github.com/stretchr/testify/require"
)

type scriptedSnapshots struct {
	snapshots []processes.Snapshot
}

func (s *scriptedSnapshots) Snapshot(context.Context) (processes.Snapshot, error) {
	next := s.snapshots[0]
	s.snapshots = s.snapshots[1:]
	return next, nil
}

type memoryEnricher map[int]processes.Details

func (m memoryEnricher) Details(_ context.Context, pid int) (processes.Details, error) {
	return m[pid], nil
}

func newHelper(t *testing.T, format common.OutputFormat) (*cmdtest.MockHelper, *strings.Builder) {
	t.Helper()
	streams, in, _, _ := iostreams.NewTestIOStreams()
	in.WriteString("\n")
	var out strings.Builder
	streams.Out = &out

	cfg := configtest.New(map[string]any{config.SelectorExecutableSuffixPath: ".exe"})
	c := &cobra.Command{Use: "detect"}
	return &cmdtest.MockHelper{
		GetCmdMock:          func() *cobra.Command { return c },
		GetStreamsMock:      func() *iostreams.IOStreams { return &streams },
		GetConfigMock:       func() (config.Hook, error) { return cfg, nil },
		GetOutputFormatMock: func() (common.OutputFormat, error) { return format, nil },
		GetContextMock:      t.Context,
	}, &out
}

func snapshots() *scriptedSnapshots {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	before := processes.NewSnapshot("rig", at,
		processes.ProcessRecord{PID: 100, Name: "explorer.exe", ExecutablePath: `C:\Windows\explorer.exe`},
	)
	after := processes.NewSnapshot("rig", at.Add(20*time.Second),
		processes.ProcessRecord{PID: 100, Name: "explorer.exe", ExecutablePath: `C:\Windows\explorer.exe`},
		processes.ProcessRecord{PID: 2001, Name: "Crash.exe", ExecutablePath: `D:\Games\Keep\Crash.exe`},
		processes.ProcessRecord{PID: 2002, Name: "Keep-Win64-Shipping.exe", ExecutablePath: `D:\Games\Keep\Keep-Win64-Shipping.exe`},
		processes.ProcessRecord{PID: 2003, Name: "helper.dll", ExecutablePath: `D:\Games\Keep\helper.dll`},
	)
	return &scriptedSnapshots{snapshots: []processes.Snapshot{before, after}}
}

func TestDetectRanksNewProcesses(t *testing.T) {
	t.Parallel()

	helper, out := newHelper(t, common.TEXT)
	enricher := memoryEnricher{
		2001: {MemoryMB: 12, ThreadCount: 3},
		2002: {MemoryMB: 2048, ThreadCount: 64},
	}

	require.NoError(t, run(helper, snapshots(), enricher, `D:/Games/Keep`))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.True(t, strings.HasPrefix(lines[0], "Start the game, then press Enter: "))
	require.Equal(t, []string{"#", "PID", "MEMORY", "THREADS", "EXECUTABLE"},
		strings.Fields(strings.TrimPrefix(lines[0], "Start the game, then press Enter: ")))
	require.Len(t, lines, 3)
	require.Equal(t, []string{"1", "2002", "2048MB", "64", `D:\Games\Keep\Keep-Win64-Shipping.exe`}, strings.Fields(lines[1]))
	require.Equal(t, "2001", strings.Fields(lines[2])[1])
}

func TestDetectReportsNoMatches(t *testing.T) {
	t.Parallel()

	helper, out := newHelper(t, common.TEXT)
	require.NoError(t, run(helper, snapshots(), memoryEnricher{}, `E:/elsewhere`))
	require.True(t, strings.HasSuffix(out.String(), "No new processes matched.\n"))
}

func TestRenderTextTruncatesLongPaths(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	long := `D:\` + strings.Repeat("游戏目录", 20) + `\Game.exe`
	require.NoError(t, renderText(&out, nil))
	out.Reset()

	require.NoError(t, renderText(&out, candidatesWithPath(long)))
	row := strings.Split(strings.TrimSpace(out.String()), "\n")[1]
	require.True(t, strings.HasSuffix(row, "..."))
}

func candidatesWithPath(path string) []candidate.Candidate {
	return []candidate.Candidate{{
		Record: processes.ProcessRecord{PID: 1, Name: "Game.exe", ExecutablePath: path},
	}}
}

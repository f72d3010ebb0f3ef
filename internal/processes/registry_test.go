package processes

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// deadPID is above the Linux pid_max ceiling, so nothing can run under it.
const deadPID = 1 << 22

func useTempRegistry(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func writeTestRecord(t *testing.T, record Record) string {
	t.Helper()
	path, err := ResolvePathForPID(record.PID)
	require.NoError(t, err)
	require.NoError(t, WriteRecord(path, record))
	return path
}

func TestWriteRecordRedactsArgsAndRoundTrips(t *testing.T) {
	home := useTempRegistry(t)

	path := writeTestRecord(t, Record{
		PID:       4242,
		Kind:      " " + KindOrchestrator + " ",
		Profile:   "lab",
		StorePath: filepath.Join(home, "tasks.json"),
		Args:      []string{"run", "--webhook-url", "https://hooks.local/send?key=abc"},
	})
	require.Equal(t, "4242.json", filepath.Base(path))

	records, err := ListRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	got := records[0]
	require.Equal(t, path, got.File)
	require.Equal(t, KindOrchestrator, got.Kind)
	require.False(t, got.CreatedAt.IsZero())
	require.Equal(t, []string{"run", "--webhook-url", "<redacted>"}, got.Args)

	require.NoError(t, RemoveRecordByPID(4242))
	require.NoFileExists(t, path)
	require.NoError(t, RemoveRecordByPath(path))
}

func TestWriteRecordValidates(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, WriteRecord("  ", Record{PID: 1}), "path is required")
	require.ErrorContains(t, WriteRecord(filepath.Join(t.TempDir(), "x.json"), Record{}), "greater than zero")
}

func TestListRecordsOrdersNewestFirst(t *testing.T) {
	useTempRegistry(t)

	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	writeTestRecord(t, Record{PID: 30, CreatedAt: base})
	writeTestRecord(t, Record{PID: 10, CreatedAt: base.Add(time.Hour)})
	writeTestRecord(t, Record{PID: 20, CreatedAt: base})

	records, err := ListRecords()
	require.NoError(t, err)
	var pids []int
	for _, r := range records {
		pids = append(pids, r.PID)
	}
	require.Equal(t, []int{10, 20, 30}, pids)
}

func TestListRecordsSkipsForeignFiles(t *testing.T) {
	useTempRegistry(t)

	dir, err := ResolveDir()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested.json"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.json"), []byte(`{"pid":0}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`{"pid":3}`), 0o600))

	records, err := ListRecords()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestListRecordsWithoutRegistry(t *testing.T) {
	useTempRegistry(t)

	records, err := ListRecords()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRunningOrchestrators(t *testing.T) {
	home := useTempRegistry(t)
	store := filepath.Join(home, "tasks", "default", "tasks.json")

	// The test binary's parent is alive for the whole run.
	writeTestRecord(t, Record{PID: os.Getppid(), Kind: KindOrchestrator, StorePath: store})
	writeTestRecord(t, Record{PID: deadPID, Kind: KindOrchestrator, StorePath: store})
	remove, err := RegisterSelf(Record{Kind: KindOrchestrator, StorePath: store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = remove() })

	running, err := RunningOrchestrators(filepath.Join(home, "tasks", "default", ".", "tasks.json"))
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, os.Getppid(), running[0].PID)

	running, err = RunningOrchestrators(filepath.Join(home, "other.json"))
	require.NoError(t, err)
	require.Empty(t, running)
}

func TestRegisterSelfRemovesItsRecord(t *testing.T) {
	useTempRegistry(t)

	remove, err := RegisterSelf(Record{Kind: KindOrchestrator, PID: 1})
	require.NoError(t, err)

	records, err := ListRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, os.Getpid(), records[0].PID)

	require.NoError(t, remove())
	records, err = ListRecords()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestPruneStale(t *testing.T) {
	useTempRegistry(t)

	dead := writeTestRecord(t, Record{PID: deadPID, Kind: KindOrchestrator})
	alive := writeTestRecord(t, Record{PID: os.Getppid(), Kind: KindOrchestrator})

	pruned, err := PruneStale()
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	require.Equal(t, deadPID, pruned[0].PID)
	require.NoFileExists(t, dead)
	require.FileExists(t, alive)
}

func TestRegisterOrchestratorBacksOutForOlderRival(t *testing.T) {
	home := useTempRegistry(t)
	store := filepath.Join(home, "tasks.json")
	now := time.Now().UTC()

	rival := writeTestRecord(t, Record{PID: os.Getppid(), Kind: KindOrchestrator, StorePath: store, CreatedAt: now.Add(-time.Hour)})

	remove, err := RegisterOrchestrator(Record{StorePath: store, CreatedAt: now})
	require.ErrorIs(t, err, ErrOrchestratorRunning)
	require.Nil(t, remove)

	records, err := ListRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, rival, records[0].File)
}

func TestRegisterOrchestratorKeepsRunningOverNewerRival(t *testing.T) {
	home := useTempRegistry(t)
	store := filepath.Join(home, "tasks.json")
	now := time.Now().UTC()

	writeTestRecord(t, Record{PID: os.Getppid(), Kind: KindOrchestrator, StorePath: store, CreatedAt: now.Add(time.Hour)})
	writeTestRecord(t, Record{PID: deadPID, Kind: KindOrchestrator, StorePath: filepath.Join(home, "other.json"), CreatedAt: now.Add(-time.Hour)})

	remove, err := RegisterOrchestrator(Record{StorePath: store, CreatedAt: now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = remove() })

	records, err := ListRecords()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, os.Getpid(), records[1].PID)
}

func TestPrecedesBreaksTiesByPID(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	require.True(t, precedes(Record{PID: 5, CreatedAt: at}, Record{PID: 9, CreatedAt: at}))
	require.False(t, precedes(Record{PID: 9, CreatedAt: at}, Record{PID: 5, CreatedAt: at}))
	require.True(t, precedes(Record{PID: 9, CreatedAt: at}, Record{PID: 5, CreatedAt: at.Add(time.Second)}))
}

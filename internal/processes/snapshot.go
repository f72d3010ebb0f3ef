package processes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot is the set of processes visible at one instant on one host.
type Snapshot struct {
	Host    string
	TakenAt time.Time
	records map[int]ProcessRecord
}

// NewSnapshot builds a snapshot from records. A later record with the same
// PID replaces an earlier one.
func NewSnapshot(host string, takenAt time.Time, records ...ProcessRecord) Snapshot {
	byPID := make(map[int]ProcessRecord, len(records))
	for _, record := range records {
		byPID[record.PID] = record
	}
	return Snapshot{
		Host:    host,
		TakenAt: takenAt,
		records: byPID,
	}
}

func (s Snapshot) Len() int {
	return len(s.records)
}

// Lookup returns the record for pid.
func (s Snapshot) Lookup(pid int) (ProcessRecord, bool) {
	record, ok := s.records[pid]
	return record, ok
}

// Records returns the snapshot content ordered by PID.
func (s Snapshot) Records() []ProcessRecord {
	out := make([]ProcessRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sortByPID(out)
	return out
}

// Since returns the records whose PID is absent from before, ordered by PID.
func (s Snapshot) Since(before Snapshot) []ProcessRecord {
	out := make([]ProcessRecord, 0)
	for pid, record := range s.records {
		if _, seen := before.records[pid]; seen {
			continue
		}
		out = append(out, record)
	}
	sortByPID(out)
	return out
}

func sortByPID(records []ProcessRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].PID < records[j].PID
	})
}

// Snapshotter enumerates the processes of the local host.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// OSSnapshotter reads the process table through gopsutil.
type OSSnapshotter struct {
	host string
	now  func() time.Time
}

// NewSnapshotter returns a Snapshotter for the local host.
func NewSnapshotter() *OSSnapshotter {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &OSSnapshotter{
		host: host,
		now:  time.Now,
	}
}

// Snapshot lists every process whose executable path is readable. Processes
// that deny access or exit during enumeration are left out.
func (s *OSSnapshotter) Snapshot(ctx context.Context) (Snapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("enumerate processes: %w", err)
	}

	records := make([]ProcessRecord, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		record, ok := readProcessRecord(ctx, p)
		if !ok {
			continue
		}
		records = append(records, record)
	}

	return NewSnapshot(s.host, s.now(), records...), nil
}

func readProcessRecord(ctx context.Context, p *process.Process) (ProcessRecord, bool) {
	exe, err := p.ExeWithContext(ctx)
	if err != nil || exe == "" {
		return ProcessRecord{}, false
	}
	name, err := p.NameWithContext(ctx)
	if err != nil || name == "" {
		name = filepath.Base(exe)
	}
	return ProcessRecord{
		Name:           name,
		ExecutablePath: exe,
		PID:            int(p.Pid),
	}, true
}

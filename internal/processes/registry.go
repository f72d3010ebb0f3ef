package processes

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/util/atomicfile"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	rootDirName = "processes"

	// KindOrchestrator marks records written by `usmapctl run`.
	KindOrchestrator = "orchestrator"
)

// Record describes a running usmapctl host process.
type Record struct {
	PID        int       `json:"pid" yaml:"pid"`
	Kind       string    `json:"kind" yaml:"kind"`
	Profile    string    `json:"profile,omitempty" yaml:"profile,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	LogFile    string    `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	StorePath  string    `json:"store_path,omitempty" yaml:"store_path,omitempty"`
	Args       []string  `json:"args,omitempty" yaml:"args,omitempty"`
	StartToken uint64    `json:"start_token,omitempty" yaml:"start_token,omitempty"`
}

// StoredRecord includes the record and backing file path.
type StoredRecord struct {
	Record
	File string `json:"file" yaml:"file"`
}

// ResolveDir returns the process registry directory.
func ResolveDir() (string, error) {
	configDir, err := config.GetDefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("resolve default config path: %w", err)
	}

	return filepath.Join(configDir, rootDirName), nil
}

// ResolvePathForPID returns the record path for a PID.
func ResolvePathForPID(pid int) (string, error) {
	dir, err := ResolveDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strconv.Itoa(pid)+".json"), nil
}

// RegisterSelf records the current process and returns a function that
// removes the record again.
func RegisterSelf(record Record) (func() error, error) {
	self := Current()
	record.PID, record.StartToken = self.PID, self.StartToken

	path, err := ResolvePathForPID(record.PID)
	if err != nil {
		return nil, err
	}
	if err := WriteRecord(path, record); err != nil {
		return nil, err
	}
	return func() error { return RemoveRecordByPath(path) }, nil
}

// ErrOrchestratorRunning reports another live orchestrator on the same store.
var ErrOrchestratorRunning = errors.New("an orchestrator is already running")

// RegisterOrchestrator records the current process as the orchestrator for
// record.StorePath and then looks for rivals. Registering before checking
// means two processes started together see each other; the older record,
// then the lower PID, keeps running and the other removes its record and
// returns ErrOrchestratorRunning.
func RegisterOrchestrator(record Record) (func() error, error) {
	record.Kind = KindOrchestrator
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	remove, err := RegisterSelf(record)
	if err != nil {
		return nil, err
	}
	rivals, err := RunningOrchestrators(record.StorePath)
	if err != nil {
		return remove, nil
	}
	self := Record{PID: os.Getpid(), CreatedAt: record.CreatedAt}
	for _, rival := range rivals {
		if precedes(rival.Record, self) {
			_ = remove()
			return nil, fmt.Errorf("%w (pid %d) for %s", ErrOrchestratorRunning, rival.PID, record.StorePath)
		}
	}
	return remove, nil
}

func precedes(a, b Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.PID < b.PID
}

// WriteRecord persists a process record atomically at path.
func WriteRecord(path string, record Record) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("process record path is required")
	}
	if record.PID <= 0 {
		return fmt.Errorf("process PID must be greater than zero")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	record.Kind = strings.TrimSpace(record.Kind)
	record.Profile = strings.TrimSpace(record.Profile)
	record.LogFile = strings.TrimSpace(record.LogFile)
	record.StorePath = strings.TrimSpace(record.StorePath)
	record.Args = RedactArgs(record.Args)

	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal process record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return fmt.Errorf("create process record directory: %w", err)
	}
	if err := atomicfile.Write(path, raw, defaultFilePerm); err != nil {
		return fmt.Errorf("write process record: %w", err)
	}
	return nil
}

// RemoveRecordByPath deletes the record at path. A missing file is not an
// error.
func RemoveRecordByPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveRecordByPID removes the process record for pid.
func RemoveRecordByPID(pid int) error {
	path, err := ResolvePathForPID(pid)
	if err != nil {
		return err
	}
	return RemoveRecordByPath(path)
}

// ListRecords returns every readable record, newest first. Files that do not
// decode into a record are skipped.
func ListRecords() ([]StoredRecord, error) {
	dir, err := ResolveDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []StoredRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if record, err := loadRecord(path); err == nil {
			records = append(records, StoredRecord{Record: record, File: path})
		}
	}

	slices.SortFunc(records, func(a, b StoredRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.PID, b.PID)
	})
	return records, nil
}

// RunningOrchestrators returns the live orchestrator records, other than
// this process, that drain storePath.
func RunningOrchestrators(storePath string) ([]StoredRecord, error) {
	records, err := ListRecords()
	if err != nil {
		return nil, err
	}
	want := canonicalPath(storePath)
	self := os.Getpid()
	return slices.DeleteFunc(records, func(r StoredRecord) bool {
		return r.Kind != KindOrchestrator || r.PID == self ||
			canonicalPath(r.StorePath) != want || !Inspect(r.Record).Running
	}), nil
}

// PruneStale removes records whose process exited or whose PID was reused
// and returns them. Records that cannot be inspected are kept.
func PruneStale() ([]StoredRecord, error) {
	records, err := ListRecords()
	if err != nil {
		return nil, err
	}
	var pruned []StoredRecord
	var errs []error
	for _, r := range records {
		switch Inspect(r.Record).Status {
		case StatusExited, StatusStale:
			if err := RemoveRecordByPath(r.File); err != nil {
				errs = append(errs, err)
				continue
			}
			pruned = append(pruned, r)
		}
	}
	return pruned, errors.Join(errs...)
}

func canonicalPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func loadRecord(path string) (Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, err
	}
	if record.PID <= 0 {
		return Record{}, fmt.Errorf("invalid process record PID")
	}

	return record, nil
}

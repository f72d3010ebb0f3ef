package taskstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/steamok/usmapctl/internal/util/atomicfile"
)

const journalFileName = "events.jsonl"

// JournalEntry is one line of the event journal.
type JournalEntry struct {
	At    time.Time `json:"at" yaml:"at"`
	Event Event     `json:"event" yaml:"event"`
}

// Journal appends store events to a JSONL file next to the store. It is an
// Observer; write failures are logged and never fail the mutation that
// produced the event.
type Journal struct {
	path   string
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

// JournalPath returns the journal location for a store file.
func JournalPath(storePath string) string {
	return filepath.Join(filepath.Dir(storePath), journalFileName)
}

// NewJournal creates a journal writing to path.
func NewJournal(path string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Journal{path: path, now: time.Now, logger: logger}
}

// Path returns the journal file.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

func (j *Journal) Observe(event Event) {
	if err := j.Append(event); err != nil {
		j.logger.Warn("appending task journal failed", slog.String("path", j.path), slog.Any("error", err))
	}
}

// Append writes event as one JSONL record.
func (j *Journal) Append(event Event) error {
	if j == nil || strings.TrimSpace(j.path) == "" {
		return errors.New("journal path is not configured")
	}
	raw, err := json.Marshal(JournalEntry{At: j.now(), Event: event})
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), atomicfile.DefaultDirPerm); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// ReadJournal returns the entries for taskID (all entries when empty) in
// write order. Lines that do not decode are skipped.
func ReadJournal(path, taskID string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var out []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if taskID != "" && entry.Event.Task.ID != taskID {
			continue
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read journal: %w", err)
	}
	return out, nil
}

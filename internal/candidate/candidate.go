// Package candidate identifies the process a workflow just launched by
// diffing two process snapshots and ranking what appeared in between.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/steamok/usmapctl/internal/processes"
	"golang.org/x/text/cases"
)

var (
	// ErrNotFound means no new process survived filtering. Callers treat it
	// as "could not identify target process", not as a fault.
	ErrNotFound = errors.New("no candidate process found")
	// ErrIncomparable means the two snapshots cannot be diffed by PID.
	ErrIncomparable = errors.New("snapshots are not comparable")
)

// UnknownParent is the parent name used when enrichment could not read it.
const UnknownParent = "unknown"

// DefaultExcludeNamePatterns are name fragments of shells, desktop helpers and
// runtimes that are never the launched game.
var DefaultExcludeNamePatterns = []string{
	"svchost",
	"explorer",
	"dllhost",
	"runtimebroker",
	"steamwebhelper",
	"taskmgr",
	"python",
	"cmd",
	"conhost",
	"searchapp",
	"rundll32",
}

// Candidate is a new process together with its ranking metadata.
type Candidate struct {
	Record      processes.ProcessRecord `json:"record" yaml:"record"`
	MemoryMB    float64                 `json:"memory_mb" yaml:"memory_mb"`
	CPUPercent  float64                 `json:"cpu_percent" yaml:"cpu_percent"`
	ThreadCount int                     `json:"thread_count" yaml:"thread_count"`
	ParentName  string                  `json:"parent_name" yaml:"parent_name"`
	CreatedAt   time.Time               `json:"created_at" yaml:"created_at"`
	// Enriched is false when none of the metadata could be read.
	Enriched bool `json:"enriched" yaml:"enriched"`
}

// Options scope a selection pass.
type Options struct {
	// ExpectedPathSubstring, when set, restricts candidates to executables
	// whose path contains it. Matching ignores case and path separator style.
	ExpectedPathSubstring string
	// ExcludeNamePatterns extends DefaultExcludeNamePatterns.
	ExcludeNamePatterns []string
	// ExecutableSuffix is the required name suffix. Empty disables the check.
	ExecutableSuffix string
	// MaxSnapshotGap bounds the time between the two snapshots. Zero
	// disables the check.
	MaxSnapshotGap time.Duration
}

// DefaultOptions returns options for the current platform.
func DefaultOptions() Options {
	return Options{
		ExecutableSuffix: DefaultExecutableSuffix(),
		ExcludeNamePatterns: []string{
			selfName(),
		},
	}
}

// DefaultExecutableSuffix is ".exe" on Windows and empty elsewhere.
func DefaultExecutableSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

func selfName() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
}

// Enricher reads ranking metadata for a live process.
type Enricher interface {
	Details(ctx context.Context, pid int) (processes.Details, error)
}

// fold builds a Caser per call; Casers are not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizePath folds case and converts backslashes so Windows and POSIX
// spellings of a path compare equal.
func NormalizePath(path string) string {
	return fold(strings.ReplaceAll(path, `\`, "/"))
}

// Select returns the highest ranked candidate.
func Select(ctx context.Context, before, after processes.Snapshot, opts Options, enricher Enricher) (Candidate, error) {
	ranked, err := Rank(ctx, before, after, opts, enricher)
	if err != nil {
		return Candidate{}, err
	}
	return ranked[0], nil
}

// Rank returns every candidate ordered by resident memory, largest first.
// The result is never empty when err is nil.
func Rank(ctx context.Context, before, after processes.Snapshot, opts Options, enricher Enricher) ([]Candidate, error) {
	if err := checkComparable(before, after, opts.MaxSnapshotGap); err != nil {
		return nil, err
	}

	records := Filter(after.Since(before), opts)
	if len(records) == 0 {
		if opts.ExpectedPathSubstring != "" {
			return nil, fmt.Errorf("%w under %q", ErrNotFound, opts.ExpectedPathSubstring)
		}
		return nil, ErrNotFound
	}

	candidates := make([]Candidate, 0, len(records))
	for _, record := range records {
		candidates = append(candidates, enrich(ctx, record, enricher))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].MemoryMB > candidates[j].MemoryMB
	})
	return candidates, nil
}

// Filter applies the name and path rules to new process records.
func Filter(records []processes.ProcessRecord, opts Options) []processes.ProcessRecord {
	patterns := excludePatterns(opts.ExcludeNamePatterns)
	suffix := fold(opts.ExecutableSuffix)
	expected := NormalizePath(strings.TrimSpace(opts.ExpectedPathSubstring))

	out := make([]processes.ProcessRecord, 0, len(records))
	for _, record := range records {
		name := fold(record.Name)
		if excluded(name, patterns) {
			continue
		}
		if suffix != "" && !strings.HasSuffix(name, suffix) {
			continue
		}
		if expected != "" && !strings.Contains(NormalizePath(record.ExecutablePath), expected) {
			continue
		}
		out = append(out, record)
	}
	return out
}

func excludePatterns(extra []string) []string {
	patterns := make([]string, 0, len(DefaultExcludeNamePatterns)+len(extra))
	for _, pattern := range append(append([]string{}, DefaultExcludeNamePatterns...), extra...) {
		pattern = fold(strings.TrimSpace(pattern))
		if pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	return patterns
}

func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

func checkComparable(before, after processes.Snapshot, maxGap time.Duration) error {
	if before.Host != after.Host {
		return fmt.Errorf("%w: taken on %q and %q", ErrIncomparable, before.Host, after.Host)
	}
	if maxGap > 0 && !before.TakenAt.IsZero() && !after.TakenAt.IsZero() {
		gap := after.TakenAt.Sub(before.TakenAt)
		if gap < 0 || gap > maxGap {
			return fmt.Errorf("%w: %s apart, limit %s", ErrIncomparable, gap, maxGap)
		}
	}
	return nil
}

func enrich(ctx context.Context, record processes.ProcessRecord, enricher Enricher) Candidate {
	candidate := Candidate{
		Record:     record,
		ParentName: UnknownParent,
	}
	if enricher == nil {
		return candidate
	}

	details, err := enricher.Details(ctx, record.PID)
	candidate.MemoryMB = details.MemoryMB
	candidate.CPUPercent = details.CPUPercent
	candidate.ThreadCount = details.ThreadCount
	candidate.CreatedAt = details.CreatedAt
	if details.ParentName != "" {
		candidate.ParentName = details.ParentName
	}
	candidate.Enriched = err == nil || details.Measured()
	return candidate
}

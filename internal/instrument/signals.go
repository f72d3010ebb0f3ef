package instrument

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Signal files written by the injector into its per-run directory.
const (
	RunningSignal = "running.signal"
	EndSignal     = "end.signal"
	SuccessSignal = "success.signal"
	CrashSignal   = "crash.signal"

	// DirLayout is the time layout of signal directory names.
	DirLayout = "20060102_150405"
)

// SignalSet records which signal files exist.
type SignalSet struct {
	Running bool `json:"running" yaml:"running"`
	End     bool `json:"end" yaml:"end"`
	Success bool `json:"success" yaml:"success"`
	Crash   bool `json:"crash" yaml:"crash"`
}

// ReadSignals checks dir for the four signal files.
func ReadSignals(dir string) (SignalSet, error) {
	var (
		set SignalSet
		err error
	)
	if set.Running, err = exists(filepath.Join(dir, RunningSignal)); err != nil {
		return SignalSet{}, err
	}
	if set.End, err = exists(filepath.Join(dir, EndSignal)); err != nil {
		return SignalSet{}, err
	}
	if set.Success, err = exists(filepath.Join(dir, SuccessSignal)); err != nil {
		return SignalSet{}, err
	}
	if set.Crash, err = exists(filepath.Join(dir, CrashSignal)); err != nil {
		return SignalSet{}, err
	}
	return set, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ResolveSignalDir returns the newest timestamp-named directory under base
// whose timestamp is at or after since. Directory names have second
// resolution, so since is truncated to the second before comparing. ok is
// false when no such directory exists yet, including when base itself is
// missing.
func ResolveSignalDir(base string, since time.Time) (dir string, ok bool, err error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read signal base %s: %w", base, err)
	}

	threshold := since.Truncate(time.Second)
	type stamped struct {
		name string
		at   time.Time
	}
	found := make([]stamped, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		at, err := time.ParseInLocation(DirLayout, entry.Name(), since.Location())
		if err != nil {
			continue
		}
		if at.Before(threshold) {
			continue
		}
		found = append(found, stamped{name: entry.Name(), at: at})
	}
	if len(found) == 0 {
		return "", false, nil
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].at.After(found[j].at)
	})
	return filepath.Join(base, found[0].name), true, nil
}

// SignalDirName formats t the way the injector names its directories.
func SignalDirName(t time.Time) string {
	return t.Format(DirLayout)
}

// WriteCrashSignal drops crash.signal into dir with a short description.
func WriteCrashSignal(dir string, pid int, at time.Time) error {
	if dir == "" {
		return errors.New("no signal directory known")
	}
	content := fmt.Sprintf("pid %d gone at %s\n", pid, at.Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dir, CrashSignal), []byte(content), 0o644)
}

// readSignalText returns the trimmed content of a signal file, if any.
func readSignalText(dir, name string) string {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// findArtifact resolves the artifact produced by a successful run:
// a path written into success.signal wins, then the newest file in dir
// matching pattern.
func findArtifact(dir, pattern string) string {
	if hint := readSignalText(dir, SuccessSignal); hint != "" {
		path := hint
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}

	if pattern == "" {
		return ""
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return ""
	}

	var (
		newest   string
		newestAt time.Time
	)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestAt) {
			newest = match
			newestAt = info.ModTime()
		}
	}
	return newest
}

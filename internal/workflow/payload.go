package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/steamok/usmapctl/internal/taskstore"
)

// ErrNoPayload is returned when a task has no payload to launch from.
var ErrNoPayload = errors.New("no payload available")

// PayloadProvider makes a task's game files available on disk and returns
// their root directory. Downloading and extracting archives happens behind
// this interface.
type PayloadProvider interface {
	Fetch(ctx context.Context, task taskstore.Task) (string, error)
}

// DirPayload serves payloads already present under Root/<task id>.
type DirPayload struct {
	Root string
}

func (p DirPayload) Fetch(_ context.Context, task taskstore.Task) (string, error) {
	if strings.TrimSpace(p.Root) == "" {
		return "", fmt.Errorf("%w: payload directory is not configured", ErrNoPayload)
	}
	dir := filepath.Join(p.Root, task.ID)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrNoPayload, dir)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrNoPayload, dir)
	}
	return dir, nil
}

// helperMarkers identify bundled executables that are not the game runtime.
var helperMarkers = []string{
	"crashreport",
	"unrealcefsubprocess",
	"prereq",
	"redist",
	"dxsetup",
	"dotnetfx",
	"vcredist",
	"uninstall",
	"unins000",
	"setup",
	"installer",
	"easyanticheat",
}

const shippingMarker = "shipping"

// DiscoverLaunchTargets walks dir for executables with the given suffix
// and orders them for instrumentation: Shipping builds first, then the
// rest, shallower paths before deeper ones. Helper executables are dropped.
func DiscoverLaunchTargets(dir, suffix string) ([]string, error) {
	if suffix == "" {
		suffix = ".exe"
	}
	suffix = strings.ToLower(suffix)

	var shipping, others []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if !strings.HasSuffix(name, suffix) || isHelper(name) {
			return nil
		}
		if strings.Contains(name, shippingMarker) {
			shipping = append(shipping, path)
		} else {
			others = append(others, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan payload %s: %w", dir, err)
	}

	sortTargets(shipping)
	sortTargets(others)
	return append(shipping, others...), nil
}

func isHelper(name string) bool {
	for _, marker := range helperMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func sortTargets(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di := strings.Count(filepath.ToSlash(paths[i]), "/")
		dj := strings.Count(filepath.ToSlash(paths[j]), "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
}

package processes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrProcessGone is returned when a PID no longer refers to a live process.
var ErrProcessGone = errors.New("process no longer exists")

// Inspector reads ranking metadata for live processes.
type Inspector struct {
	// CPUSampleInterval is the window used to measure CPU usage.
	CPUSampleInterval time.Duration
}

// NewInspector returns an Inspector with a 100ms CPU sample window.
func NewInspector() *Inspector {
	return &Inspector{CPUSampleInterval: defaultCPUSample}
}

// Details returns whatever metadata could be read for pid. A non-nil error
// lists the fields that failed; the returned Details is still usable.
func (i *Inspector) Details(ctx context.Context, pid int) (Details, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return Details{}, fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
		}
		return Details{}, fmt.Errorf("open pid %d: %w", pid, err)
	}

	var (
		details Details
		errs    []error
	)

	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		details.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	} else {
		errs = append(errs, fmt.Errorf("memory: %w", errOrUnavailable(err)))
	}

	interval := i.CPUSampleInterval
	if interval <= 0 {
		interval = defaultCPUSample
	}
	if cpu, err := p.PercentWithContext(ctx, interval); err == nil {
		details.CPUPercent = cpu
	} else {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	}

	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		details.ThreadCount = int(threads)
	} else {
		errs = append(errs, fmt.Errorf("threads: %w", err))
	}

	if parent, err := p.ParentWithContext(ctx); err == nil && parent != nil {
		if name, err := parent.NameWithContext(ctx); err == nil && name != "" {
			details.ParentName = name
		}
	}

	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		details.CreatedAt = time.UnixMilli(created)
	} else {
		errs = append(errs, fmt.Errorf("create time: %w", err))
	}

	if len(errs) > 0 {
		return details, fmt.Errorf("pid %d: %w", pid, errors.Join(errs...))
	}
	return details, nil
}

func errOrUnavailable(err error) error {
	if err != nil {
		return err
	}
	return errors.New("unavailable")
}

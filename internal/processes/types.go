package processes

import "time"

const (
	defaultStopTimeout   = 15 * time.Second
	defaultProbeInterval = 100 * time.Millisecond
	defaultCPUSample     = 100 * time.Millisecond
)

// Status represents the runtime state of a recorded process.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusStale   Status = "stale"
	StatusUnknown Status = "unknown"
)

// RuntimeState captures live process status for a stored record.
type RuntimeState struct {
	Status             Status `json:"status" yaml:"status"`
	Running            bool   `json:"running" yaml:"running"`
	ObservedStartToken uint64 `json:"observed_start_token,omitempty" yaml:"observed_start_token,omitempty"`
	CheckError         string `json:"check_error,omitempty" yaml:"check_error,omitempty"`
}

// ProcessRecord is one process as seen by a snapshot. The PID identifies the
// process only for the lifetime of that snapshot.
type ProcessRecord struct {
	Name           string `json:"name" yaml:"name"`
	ExecutablePath string `json:"executable_path" yaml:"executable_path"`
	PID            int    `json:"pid" yaml:"pid"`
}

// Details is the best-effort metadata used to rank candidate processes.
// Fields that could not be read keep their zero value.
type Details struct {
	MemoryMB    float64   `json:"memory_mb" yaml:"memory_mb"`
	CPUPercent  float64   `json:"cpu_percent" yaml:"cpu_percent"`
	ThreadCount int       `json:"thread_count" yaml:"thread_count"`
	ParentName  string    `json:"parent_name" yaml:"parent_name"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Measured reports whether any resource metric or the creation time was
// read. The parent name alone does not count.
func (d Details) Measured() bool {
	return d.MemoryMB != 0 || d.CPUPercent != 0 || d.ThreadCount != 0 || !d.CreatedAt.IsZero()
}

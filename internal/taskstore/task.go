// Package taskstore persists the task queue: which tasks were pulled, which
// are in flight and how each one ended.
package taskstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	Unprocessed Status = "unprocessed"
	Processing  Status = "processing"
	Completed   Status = "completed"
	Error       Status = "error"
)

// NoArtifactFound marks a completed task whose run succeeded without a
// discoverable artifact. It is distinct from an unset path.
const NoArtifactFound = "<no artifact found>"

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrStoreUnwritable   = errors.New("task store unwritable")
	ErrLeaseLost         = errors.New("task lease lost")
	ErrBusy              = errors.New("another task is already processing")
)

var allowedTransitions = map[Status]map[Status]struct{}{
	Unprocessed: {
		Processing: {},
	},
	Processing: {
		Completed:   {},
		Error:       {},
		Unprocessed: {},
	},
	Completed: {},
	Error:     {},
}

// requeueable lists the states an operator may send back to the queue.
var requeueable = map[Status]struct{}{
	Processing: {},
	Error:      {},
}

// Task is one row of the persisted task table.
type Task struct {
	ID           string    `json:"id" yaml:"id"`
	DisplayName  string    `json:"displayName" yaml:"displayName"`
	Detail       string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	Status       Status    `json:"status" yaml:"status"`
	ArtifactPath string    `json:"artifactPath,omitempty" yaml:"artifactPath,omitempty"`
	ErrorDetail  string    `json:"errorDetail,omitempty" yaml:"errorDetail,omitempty"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	LastUpdated  time.Time `json:"lastUpdated" yaml:"lastUpdated"`
	Lease        *Lease    `json:"lease,omitempty" yaml:"lease,omitempty"`
}

// HasArtifact reports whether the task points at a real artifact file.
func (t Task) HasArtifact() bool {
	return t.ArtifactPath != "" && t.ArtifactPath != NoArtifactFound
}

func (t Task) clone() Task {
	if t.Lease != nil {
		lease := *t.Lease
		t.Lease = &lease
	}
	return t
}

// Candidate is a task descriptor as returned by a task source.
type Candidate struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Detail      string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Update describes a requested transition.
type Update struct {
	Status       Status
	ArtifactPath string
	ErrorDetail  string
	// LeaseID, when set, must match the task's current lease.
	LeaseID string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses []Status
	Limit    int
}

func (f Filter) matches(t Task) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == t.Status {
			return true
		}
	}
	return false
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := allowedTransitions[s]; !ok {
		return "", fmt.Errorf("invalid task status %q", value)
	}
	return s, nil
}

// ValidateTransition checks from -> to against the lifecycle table.
func ValidateTransition(from, to Status) error {
	if _, ok := allowedTransitions[from]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// apply validates update against t and returns the transitioned task.
func apply(t Task, update Update, now time.Time) (Task, error) {
	if err := ValidateTransition(t.Status, update.Status); err != nil {
		return Task{}, err
	}
	if update.LeaseID != "" && (t.Lease == nil || t.Lease.ID != update.LeaseID) {
		return Task{}, fmt.Errorf("%w: task %s", ErrLeaseLost, t.ID)
	}

	next := t.clone()
	next.Status = update.Status
	switch update.Status {
	case Completed:
		next.ArtifactPath = update.ArtifactPath
		if strings.TrimSpace(next.ArtifactPath) == "" {
			next.ArtifactPath = NoArtifactFound
		}
		next.ErrorDetail = ""
	case Error:
		detail := strings.TrimSpace(update.ErrorDetail)
		if detail == "" {
			return Task{}, fmt.Errorf("%w: error status requires a detail", ErrInvalidTransition)
		}
		next.ErrorDetail = detail
		next.ArtifactPath = ""
	case Unprocessed:
		next.ArtifactPath = ""
		next.ErrorDetail = ""
	case Processing:
	}
	if next.Status != Processing {
		next.Lease = nil
	}
	next.LastUpdated = bump(t.LastUpdated, now)
	return next, nil
}

// bump returns now, or the instant right after prev when the clock did not
// move forward.
func bump(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}

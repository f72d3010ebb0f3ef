package processes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

var errInvalidPID = errors.New("invalid process pid")

// Incarnation pins a PID to one process lifetime. A zero StartToken matches
// whatever process currently holds the PID.
type Incarnation struct {
	PID        int
	StartToken uint64
}

// Current returns the incarnation of the calling process.
func Current() Incarnation {
	inc := Incarnation{PID: os.Getpid()}
	if token, err := ReadStartToken(inc.PID); err == nil {
		inc.StartToken = token
	}
	return inc
}

// Inspect reports whether the process that wrote record still runs.
func Inspect(record Record) RuntimeState {
	return InspectIncarnation(Incarnation{PID: record.PID, StartToken: record.StartToken})
}

// InspectIncarnation probes inc. A live PID whose start token differs from
// the recorded one is reported as stale.
func InspectIncarnation(inc Incarnation) RuntimeState {
	if inc.PID <= 0 {
		return RuntimeState{Status: StatusUnknown, CheckError: errInvalidPID.Error()}
	}
	exists, err := processExists(inc.PID)
	switch {
	case err != nil:
		return RuntimeState{Status: StatusUnknown, CheckError: err.Error()}
	case !exists:
		return RuntimeState{Status: StatusExited}
	}

	state := RuntimeState{Status: StatusRunning, Running: true}
	token, err := ReadStartToken(inc.PID)
	if err != nil {
		state.CheckError = err.Error()
		return state
	}
	state.ObservedStartToken = token
	if inc.StartToken != 0 && token != 0 && token != inc.StartToken {
		state.Status = StatusStale
		state.Running = false
	}
	return state
}

// Terminate asks pid to exit and waits up to timeout before killing it.
func Terminate(pid int, timeout time.Duration) error {
	if pid <= 0 {
		return errInvalidPID
	}
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	if err := requestStop(pid); err != nil {
		return fmt.Errorf("stop pid %d: %w", pid, err)
	}

	ticker := time.NewTicker(defaultProbeInterval)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		exists, err := processExists(pid)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			if err := forceStop(pid); err != nil {
				return fmt.Errorf("pid %d outlived %s and could not be killed: %w", pid, timeout, err)
			}
			return nil
		}
	}
}

// OSProber answers liveness questions about local PIDs.
type OSProber struct{}

// Exists reports whether pid refers to a live process.
func (OSProber) Exists(_ context.Context, pid int) (bool, error) {
	return processExists(pid)
}

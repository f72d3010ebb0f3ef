//go:build !linux

package processes

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v4/process"
)

// ReadStartToken returns the creation time of pid in milliseconds since the
// epoch.
func ReadStartToken(pid int) (uint64, error) {
	p, err := open(pid)
	if err != nil {
		return 0, err
	}
	created, err := p.CreateTime()
	if err != nil {
		return 0, err
	}
	if created <= 0 {
		return 0, errors.New("process create time unavailable")
	}
	return uint64(created), nil
}

func processExists(pid int) (bool, error) {
	if pid <= 0 {
		return false, errInvalidPID
	}
	return process.PidExistsWithContext(context.Background(), int32(pid))
}

func requestStop(pid int) error {
	p, err := open(pid)
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.Terminate()
}

func forceStop(pid int) error {
	p, err := open(pid)
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.Kill()
}

func open(pid int) (*process.Process, error) {
	if pid <= 0 {
		return nil, errInvalidPID
	}
	return process.NewProcess(int32(pid))
}

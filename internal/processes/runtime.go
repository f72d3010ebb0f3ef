//go:build linux

package processes

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// starttime is field 22 of /proc/<pid>/stat; counted after the command name
// it is the 20th.
const statStartTimeIndex = 19

// ReadStartToken returns the start time of pid in clock ticks since boot.
func ReadStartToken(pid int) (uint64, error) {
	if pid <= 0 {
		return 0, errInvalidPID
	}
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, err
	}

	// comm is wrapped in parentheses and may itself contain them
	stat := string(raw)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, fmt.Errorf("pid %d: malformed stat line", pid)
	}
	fields := strings.Fields(stat[end+1:])
	if len(fields) <= statStartTimeIndex {
		return 0, fmt.Errorf("pid %d: stat line has %d fields after comm", pid, len(fields))
	}
	return strconv.ParseUint(fields[statStartTimeIndex], 10, 64)
}

func processExists(pid int) (bool, error) {
	if pid <= 0 {
		return false, errInvalidPID
	}
	switch err := syscall.Kill(pid, 0); {
	case err == nil, errors.Is(err, syscall.EPERM):
		return true, nil
	case errors.Is(err, syscall.ESRCH):
		return false, nil
	default:
		return false, err
	}
}

func requestStop(pid int) error {
	return signalPID(pid, syscall.SIGTERM)
}

func forceStop(pid int) error {
	return signalPID(pid, syscall.SIGKILL)
}

func signalPID(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

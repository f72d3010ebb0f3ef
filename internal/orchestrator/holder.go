package orchestrator

import (
	"os"

	"github.com/steamok/usmapctl/internal/processes"
	"github.com/steamok/usmapctl/internal/taskstore"
)

// CurrentHolder identifies this process as a lease holder.
func CurrentHolder() taskstore.Holder {
	self := processes.Current()
	holder := taskstore.Holder{PID: self.PID, StartToken: self.StartToken}
	if host, err := os.Hostname(); err == nil {
		holder.Host = host
	}
	return holder
}

// HolderAlive reports whether the process that took lease still runs. A
// holder on another host cannot be checked and counts as gone once its
// lease has expired.
func HolderAlive(lease taskstore.Lease) bool {
	if lease.Host != "" {
		if host, err := os.Hostname(); err == nil && host != lease.Host {
			return false
		}
	}
	state := processes.InspectIncarnation(processes.Incarnation{
		PID:        lease.HolderPID,
		StartToken: lease.HolderStartToken,
	})
	return state.Running
}

package taskstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lease is a time-bounded claim on a processing task. A holder renews it
// while working; an expired lease whose holder is gone marks the task as
// abandoned.
type Lease struct {
	ID               string    `json:"id" yaml:"id"`
	HolderPID        int       `json:"holderPid" yaml:"holderPid"`
	HolderStartToken uint64    `json:"holderStartToken,omitempty" yaml:"holderStartToken,omitempty"`
	Host             string    `json:"host,omitempty" yaml:"host,omitempty"`
	AcquiredAt       time.Time `json:"acquiredAt" yaml:"acquiredAt"`
	ExpiresAt        time.Time `json:"expiresAt" yaml:"expiresAt"`
}

// Holder identifies the process taking leases.
type Holder struct {
	PID        int
	StartToken uint64
	Host       string
}

// NewLease creates a lease for holder valid for ttl from now.
func NewLease(holder Holder, now time.Time, ttl time.Duration) Lease {
	return Lease{
		ID:               uuid.NewString(),
		HolderPID:        holder.PID,
		HolderStartToken: holder.StartToken,
		Host:             holder.Host,
		AcquiredAt:       now,
		ExpiresAt:        now.Add(ttl),
	}
}

// Expired reports whether the lease is no longer valid at now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// RecoveryPolicy decides what happens to abandoned processing tasks.
type RecoveryPolicy string

const (
	// RecoverAsError records the abandoned task as failed.
	RecoverAsError RecoveryPolicy = "error"
	// RecoverRequeue puts the abandoned task back into the queue.
	RecoverRequeue RecoveryPolicy = "requeue"
)

// LeaseExpiredDetail is the error detail of tasks recovered as failed.
const LeaseExpiredDetail = "orchestrator lease expired while processing"

// ParseRecoveryPolicy validates a policy string; empty selects the default.
func ParseRecoveryPolicy(value string) (RecoveryPolicy, error) {
	switch RecoveryPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", RecoverAsError:
		return RecoverAsError, nil
	case RecoverRequeue:
		return RecoverRequeue, nil
	default:
		return "", fmt.Errorf("invalid lease policy %q (allowed: %s, %s)", value, RecoverAsError, RecoverRequeue)
	}
}

// RecoverOptions configure RecoverExpired.
type RecoverOptions struct {
	Policy RecoveryPolicy
	// TTL ages out processing tasks that carry no lease at all.
	TTL time.Duration
	// Alive reports whether a lease holder still runs. Nil treats every
	// holder of an expired lease as gone.
	Alive func(Lease) bool
}

func (o RecoverOptions) abandoned(t Task, now time.Time) bool {
	if t.Status != Processing {
		return false
	}
	if t.Lease == nil {
		return o.TTL > 0 && now.Sub(t.LastUpdated) >= o.TTL
	}
	if !t.Lease.Expired(now) {
		return false
	}
	if o.Alive != nil && o.Alive(*t.Lease) {
		return false
	}
	return true
}

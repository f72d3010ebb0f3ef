package workflow

import "context"

// Desktop is the single interactive session a workflow automates. Only one
// holder may own it at a time.
type Desktop struct {
	sem chan struct{}
}

// NewDesktop returns an unowned desktop.
func NewDesktop() *Desktop {
	return &Desktop{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the desktop is free or ctx ends. The returned
// release func is idempotent.
func (d *Desktop) Acquire(ctx context.Context) (func(), error) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-d.sem
	}, nil
}

// TryAcquire takes the desktop only when it is free.
func (d *Desktop) TryAcquire() (func(), bool) {
	select {
	case d.sem <- struct{}{}:
	default:
		return nil, false
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-d.sem
	}, true
}

package taskstore

// EventKind distinguishes store notifications.
type EventKind string

const (
	EventNewTask      EventKind = "new_task"
	EventStatusChange EventKind = "status_change"
)

// Event describes one committed change. For new tasks From is empty.
type Event struct {
	Kind EventKind `json:"kind" yaml:"kind"`
	Task Task      `json:"task" yaml:"task"`
	From Status    `json:"from,omitempty" yaml:"from,omitempty"`
	To   Status    `json:"to" yaml:"to"`
}

// Observer receives events after they are persisted.
type Observer interface {
	Observe(event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event Event)

func (f ObserverFunc) Observe(event Event) {
	f(event)
}

package events

import "github.com/ShehabShan/TaskGuru-server/internal/store"

// Type tags a ChangeEvent. The values are the wire event names clients
// subscribe to.
type Type string

const (
	TaskAdded   Type = "taskAdded"
	TaskUpdated Type = "taskUpdated"
	TaskDeleted Type = "taskDeleted"
)

// ChangeEvent is a real-time task mutation pushed to connected clients.
// Added and Updated carry the full task document; Deleted carries only the
// identifier. Events are produced once per successful mutation and are
// never persisted.
type ChangeEvent struct {
	Type   Type        `json:"type"`
	Task   *store.Task `json:"task,omitempty"`
	TaskID string      `json:"id,omitempty"`
}

func Added(t *store.Task) ChangeEvent {
	return ChangeEvent{Type: TaskAdded, Task: t, TaskID: t.ID}
}

func Updated(t *store.Task) ChangeEvent {
	return ChangeEvent{Type: TaskUpdated, Task: t, TaskID: t.ID}
}

func Deleted(id string) ChangeEvent {
	return ChangeEvent{Type: TaskDeleted, TaskID: id}
}

// EntityID returns the identifier of the task the event concerns,
// regardless of variant.
func (e ChangeEvent) EntityID() string {
	return e.TaskID
}

// Broadcaster delivers change events to whoever is listening. Delivery is
// fire-and-forget: implementations must not block on slow receivers and
// never report delivery failures back to the producer.
// A nil Broadcaster is safe to use -- Broadcast becomes a no-op.
type Broadcaster interface {
	Broadcast(e ChangeEvent)
}

// Multi fans one event out to several broadcasters in order. Nil entries
// are skipped, so optional sinks can be wired unconditionally.
func Multi(sinks ...Broadcaster) Broadcaster {
	return multi(sinks)
}

type multi []Broadcaster

func (m multi) Broadcast(e ChangeEvent) {
	for _, b := range m {
		if b != nil {
			b.Broadcast(e)
		}
	}
}

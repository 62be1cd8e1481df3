package amqp

import (
	"slices"
	"sync"

	"github.com/Thejuampi/amqp-client-go/amqp/codec"
)

// Event names a lifecycle notification.
type Event int

const (
	EventReady Event = iota
	EventReconnecting
	EventClosed
	EventError
	EventNodeError
	EventDrain
	EventCommand
	EventBlocked
	EventUnblocked
)

var eventNames = [...]string{
	EventReady:        "ready",
	EventReconnecting: "reconnecting",
	EventClosed:       "closed",
	EventError:        "error",
	EventNodeError:    "node error",
	EventDrain:        "drain",
	EventCommand:      "command",
	EventBlocked:      "blocked",
	EventUnblocked:    "unblocked",
}

func (event Event) String() string {
	if event >= 0 && int(event) < len(eventNames) {
		return eventNames[event]
	}
	return "unknown"
}

// Notification is delivered to listeners. Node is the host key of the
// connection that raised it. Channel and Frame are set for EventCommand;
// a command with Err set and no Frame is a decode failure on that channel.
type Notification struct {
	Event   Event
	Node    string
	Channel uint16
	Frame   codec.Frame
	Err     error
	Reason  string
}

// Listener receives notifications. Notify runs on the goroutine that raised
// the event and must not block.
type Listener interface {
	Notify(Notification)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Notification)

// Notify calls f.
func (f ListenerFunc) Notify(notification Notification) { f(notification) }

type observers struct {
	lock      sync.Mutex
	nextID    uint64
	listeners map[uint64]Listener
}

// subscribe registers listener and returns a function removing it.
func (registry *observers) subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	registry.lock.Lock()
	if registry.listeners == nil {
		registry.listeners = make(map[uint64]Listener)
	}
	id := registry.nextID
	registry.nextID++
	registry.listeners[id] = listener
	registry.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			registry.lock.Lock()
			delete(registry.listeners, id)
			registry.lock.Unlock()
		})
	}
}

// broadcast snapshots the listener set so a listener may unsubscribe while
// being notified.
func (registry *observers) broadcast(notification Notification) {
	registry.lock.Lock()
	ids := make([]uint64, 0, len(registry.listeners))
	for id := range registry.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	snapshot := make([]Listener, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, registry.listeners[id])
	}
	registry.lock.Unlock()

	for _, listener := range snapshot {
		listener.Notify(notification)
	}
}

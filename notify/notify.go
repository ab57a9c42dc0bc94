// Package notify gives the driver a typed, bus-facing event surface: the
// concrete implementation of the device facade's event_notify_cb/notify_app
// contract, built on the teacher's topic-trie publish/subscribe bus instead
// of a bare callback slice.
package notify

import "github.com/jangala-dev/bg-ltem-go/bus"

// Kind classifies a published event.
type Kind string

const (
	KindInfo  Kind = "info"
	KindWarn  Kind = "warn"
	KindFault Kind = "fault"
	KindURC   Kind = "urc"
)

// Event is the payload carried on the device/event topic.
type Event struct {
	Kind Kind
	Msg  string
}

var eventTopic = bus.T("device", "event")

// Bus scopes a bus.Connection to the driver's event topic.
type Bus struct {
	conn *bus.Connection
}

// New creates a Bus bound to a fresh connection on b, identified by connID
// (e.g. a device instance name, for multi-connection diagnostics).
func New(b *bus.Bus, connID string) *Bus {
	return &Bus{conn: b.NewConnection(connID)}
}

// NotifyApp publishes an application-facing event (the driver's notify_app).
func (n *Bus) NotifyApp(kind Kind, msg string) {
	n.conn.Publish(n.conn.NewMessage(eventTopic, Event{Kind: kind, Msg: msg}, false))
}

// Subscribe installs an event_notify_cb-style handler and returns an
// unsubscribe function. cb runs on its own goroutine, decoupled from
// whichever goroutine published the event.
func (n *Bus) Subscribe(cb func(Event)) func() {
	sub := n.conn.Subscribe(eventTopic)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case m, ok := <-sub.Channel():
				if !ok {
					return
				}
				if ev, ok := m.Payload.(Event); ok {
					cb(ev)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		sub.Unsubscribe()
	}
}

// Close releases the underlying bus connection and all its subscriptions.
func (n *Bus) Close() { n.conn.Disconnect() }

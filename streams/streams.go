// Package streams implements the driver's stream registry and unsolicited
// result code (URC) event manager. Both the registry and the dispatcher are
// single-goroutine structures, called from the application's main loop
// (never from the IOP's service goroutine).
package streams

import (
	"github.com/jangala-dev/bg-ltem-go/atresult"
	"github.com/jangala-dev/bg-ltem-go/errcode"
	"github.com/jangala-dev/bg-ltem-go/ring"
)

// MaxStreams bounds the registry, unifying the source driver's overlapping
// per-file and per-socket context limits onto a single data-context space.
const MaxStreams = 8

// Type identifies what kind of data context a stream represents.
type Type int

const (
	TypeFile Type = iota
	TypeTCP
	TypeUDP
	TypeSSLTLS
	TypeMQTT
	TypeHTTP
)

// TypeFilter selects which streams GetStream considers a match. FilterSocket
// matches any of TCP, UDP, or SSL/TLS.
type TypeFilter int

const (
	FilterAny TypeFilter = iota
	FilterSocket
	FilterExact
)

func (t Type) isSocket() bool {
	switch t {
	case TypeTCP, TypeUDP, TypeSSLTLS:
		return true
	default:
		return false
	}
}

// URCHandler inspects the RX ring for its stream's unsolicited result codes.
// It must return Cancelled to decline a pass (leaving the ring untouched for
// later handlers) or any other code to claim it, having consumed a
// contiguous prefix of the ring.
type URCHandler interface {
	HandleURC(r *ring.Ring) atresult.Code
}

// URCHandlerFunc adapts a function to URCHandler.
type URCHandlerFunc func(r *ring.Ring) atresult.Code

func (f URCHandlerFunc) HandleURC(r *ring.Ring) atresult.Code { return f(r) }

// Cancelled is the sentinel a URCHandler returns to decline a pass.
const Cancelled atresult.Code = atresult.Code(1)

// Stream is one entry in the registry.
type Stream struct {
	Context    int
	Type       Type
	RecvCB     func(chunk []byte)
	URCHandler URCHandler
}

// Registry is the ordered, fixed-capacity table of active streams.
type Registry struct {
	slots [MaxStreams]*Stream
	order []int // insertion order, by Context, for event_mgr's dispatch order
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// AddStream inserts s by its Context if not already present. Idempotent:
// re-adding an existing context is a no-op success. Returns an
// errcode.InvalidConfig error if the context is outside 0..MaxStreams-1,
// errcode.StreamTableFull if the registry is at capacity, and nil otherwise.
func (reg *Registry) AddStream(s Stream) error {
	if s.Context < 0 || s.Context >= MaxStreams {
		return &errcode.E{C: errcode.InvalidConfig, Op: "AddStream", Msg: "context out of range"}
	}
	if reg.slots[s.Context] != nil {
		return nil
	}
	if len(reg.order) >= MaxStreams {
		return &errcode.E{C: errcode.StreamTableFull, Op: "AddStream"}
	}
	cp := s
	reg.slots[s.Context] = &cp
	reg.order = append(reg.order, s.Context)
	return nil
}

// DeleteStream removes the stream at context, if present.
func (reg *Registry) DeleteStream(context int) {
	if context < 0 || context >= MaxStreams || reg.slots[context] == nil {
		return
	}
	reg.slots[context] = nil
	for i, c := range reg.order {
		if c == context {
			reg.order = append(reg.order[:i], reg.order[i+1:]...)
			break
		}
	}
}

// GetStream looks up the stream at context, applying filter.
func (reg *Registry) GetStream(context int, filter TypeFilter) (*Stream, bool) {
	if context < 0 || context >= MaxStreams {
		return nil, false
	}
	s := reg.slots[context]
	if s == nil {
		return nil, false
	}
	switch filter {
	case FilterSocket:
		if !s.Type.isSocket() {
			return nil, false
		}
	case FilterExact, FilterAny:
	}
	return s, true
}

// Streams returns the registered streams in registration order.
func (reg *Registry) Streams() []*Stream {
	out := make([]*Stream, 0, len(reg.order))
	for _, c := range reg.order {
		out = append(out, reg.slots[c])
	}
	return out
}

// EventManager dispatches URCs to the registry's streams, in registration
// order, on each call from the application's main loop.
type EventManager struct {
	reg *Registry
}

// NewEventManager binds an EventManager to reg.
func NewEventManager(reg *Registry) *EventManager {
	return &EventManager{reg: reg}
}

// Poll scans r for a URC lead-in ('+') and, if found, offers the ring to
// each registered stream's handler in registration order until one claims
// it. Returns true if a handler claimed the pass.
func (em *EventManager) Poll(r *ring.Ring) bool {
	if r.Find([]byte("+"), 0, 0, false) == ring.NotFound {
		return false
	}
	for _, s := range em.reg.Streams() {
		if s.URCHandler == nil {
			continue
		}
		if code := s.URCHandler.HandleURC(r); code != Cancelled {
			return true
		}
	}
	return false
}

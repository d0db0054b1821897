package router

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rickgao/studio-console/internal/protocol"
)

// Handler receives every envelope of the type it is registered for.
type Handler func(env protocol.Envelope)

// RegistryStats contains runtime statistics.
type RegistryStats struct {
	FramesDispatched int64 // Decoded frames, with or without handlers
	FramesMalformed  int64
	Unhandled        int64 // Decoded frames no handler was registered for
	HandlerCalls     int64
	HandlerPanics    int64
	Handlers         int // Currently registered (type, handler) pairs
}

// Registry is the event dispatch table of the session.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]*Handler

	dispatched atomic.Int64
	malformed  atomic.Int64
	unhandled  atomic.Int64
	calls      atomic.Int64
	panics     atomic.Int64
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:   logger,
		handlers: make(map[string][]*Handler),
	}
}

// On registers h for eventType. A nil handler or an empty type is ignored,
// as is a second registration of the same pointer for the same type.
func (r *Registry) On(eventType string, h *Handler) Subscription {
	if h == nil || *h == nil || eventType == "" {
		return Subscription{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.handlers[eventType] {
		if existing == h {
			return Subscription{registry: r, eventType: eventType, handler: h, done: new(atomic.Bool)}
		}
	}
	r.handlers[eventType] = append(r.handlers[eventType], h)

	return Subscription{registry: r, eventType: eventType, handler: h, done: new(atomic.Bool)}
}

// Subscribe registers fn for eventType under a fresh handler identity.
func (r *Registry) Subscribe(eventType string, fn func(protocol.Envelope)) Subscription {
	if fn == nil {
		return Subscription{}
	}
	h := Handler(fn)
	return r.On(eventType, &h)
}

// Off removes h from eventType. Removing an unknown handler is a no-op.
func (r *Registry) Off(eventType string, h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[eventType]
	for i, existing := range list {
		if existing != h {
			continue
		}

		// Copy so that a dispatch iterating the old slice is unaffected.
		next := make([]*Handler, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, eventType)
		} else {
			r.handlers[eventType] = next
		}
		return
	}
}

// Dispatch decodes frame and invokes the handlers for its type. It returns
// an error only when the frame cannot be decoded; handler failures are
// contained here.
func (r *Registry) Dispatch(frame []byte) error {
	env, err := protocol.Parse(frame)
	if err != nil {
		r.malformed.Add(1)
		return err
	}

	r.DispatchEnvelope(env)
	return nil
}

// DispatchEnvelope invokes the handlers for env.Type.
func (r *Registry) DispatchEnvelope(env protocol.Envelope) {
	r.dispatched.Add(1)

	r.mu.RLock()
	list := r.handlers[env.Type]
	r.mu.RUnlock()

	if len(list) == 0 {
		r.unhandled.Add(1)
		r.logger.Debug("no handler for message", "type", env.Type)
		return
	}

	// list is never mutated in place, so handlers may register or remove
	// others while it is iterated.
	for _, h := range list {
		r.invoke(env, h)
	}
}

// HandlerCount returns the number of handlers registered for eventType.
func (r *Registry) HandlerCount(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// Stats returns current statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	total := 0
	for _, list := range r.handlers {
		total += len(list)
	}
	r.mu.RUnlock()

	return RegistryStats{
		FramesDispatched: r.dispatched.Load(),
		FramesMalformed:  r.malformed.Load(),
		Unhandled:        r.unhandled.Load(),
		HandlerCalls:     r.calls.Load(),
		HandlerPanics:    r.panics.Load(),
		Handlers:         total,
	}
}

func (r *Registry) invoke(env protocol.Envelope, h *Handler) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("handler panicked",
				"type", env.Type,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
		}
	}()

	r.calls.Add(1)
	(*h)(env)
}

// Subscription releases one registration. The zero value is valid and
// releases nothing.
type Subscription struct {
	registry  *Registry
	eventType string
	handler   *Handler
	done      *atomic.Bool
}

// Unsubscribe removes the registration. Calling it more than once is safe.
func (s Subscription) Unsubscribe() {
	if s.registry == nil || !s.done.CompareAndSwap(false, true) {
		return
	}
	s.registry.Off(s.eventType, s.handler)
}

// EventType returns the message type the subscription is for.
func (s Subscription) EventType() string {
	return s.eventType
}

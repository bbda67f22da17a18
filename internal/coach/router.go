package coach

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/posecoach/internal/normalize"
)

// Compile-time interface assertion.
var _ normalize.Router = (*Router)(nil)

// Router dispatches inbound events by channel name. Channels without a
// dedicated handler go to the wildcard handler, if any. Handler panics are
// recovered and logged so one bad message cannot stop the read loop.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]func(payload []byte)
	fallback func(channel string, payload []byte)
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]func([]byte))}
}

// Handle registers fn for channel, replacing any previous handler.
func (r *Router) Handle(channel string, fn func(payload []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[channel] = fn
}

// HandleAny registers the wildcard handler.
func (r *Router) HandleAny(fn func(channel string, payload []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fn
}

// Dispatch delivers one event. It reports whether a handler ran.
func (r *Router) Dispatch(channel string, payload []byte) (handled bool) {
	r.mu.RLock()
	fn, ok := r.handlers[channel]
	fallback := r.fallback
	r.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			slog.Warn("coach: handler panicked", "channel", channel, "panic", p)
		}
	}()
	switch {
	case ok:
		handled = true
		fn(payload)
	case fallback != nil:
		handled = true
		fallback(channel, payload)
	}
	return handled
}

package app

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/core"
)

// eventBuffer bounds each subscriber feed; a stalled consumer loses
// events instead of stalling the session.
const eventBuffer = 32

type eventHub struct {
	mu     sync.Mutex
	subs   map[string]chan core.CallEvent
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[string]chan core.CallEvent)}
}

// subscribe returns a feed of call events and a cancel func. After the
// hub closes, the returned channel is already closed.
func (h *eventHub) subscribe() (<-chan core.CallEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan core.CallEvent, eventBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := uuid.NewString()
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *eventHub) publish(ev core.CallEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Str("module", "app.events").
				Str("subscriber", id).
				Str("kind", string(ev.Kind)).
				Msg("slow subscriber, event dropped")
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

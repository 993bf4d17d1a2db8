package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler handles a published event.
type Handler func(context.Context, Event) error

// Dispatcher allows event publication and subscription.
type Dispatcher interface {
	Publish(ctx context.Context, ev Event)
	SubscribeAll(h Handler)
}

// inMemoryDispatcher invokes handlers synchronously in subscription order.
type inMemoryDispatcher struct {
	mu  sync.RWMutex
	all []Handler
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{}
}

// Publish runs every subscribed handler. A failing handler is logged and does
// not stop the others. Sinks filter by ev.Type themselves.
func (d *inMemoryDispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	hs := append([]Handler(nil), d.all...)
	d.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			log.Warn().
				Err(err).
				Str("event_id", ev.ID).
				Str("event_type", string(ev.Type)).
				Str("query_id", ev.QueryID).
				Msg("event handler failed")
		}
	}
}

// SubscribeAll registers a handler for every event type.
func (d *inMemoryDispatcher) SubscribeAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, h)
}

// Nop discards every event. Useful where no dispatcher is wired.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
func (Nop) SubscribeAll(Handler)           {}

package events

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/util"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

type subscriber struct {
	name string
	fn   HandlerFunc
}

// EventBus is an asynchronous publish-subscribe bus. Handlers run in their
// own goroutines; a panicking handler is logged and does not affect others.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[EventType][]subscriber
	stopped bool

	inflight sync.WaitGroup
	logger   zerolog.Logger
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:   make(map[EventType][]subscriber),
		logger: util.ComponentLogger("events"),
	}
}

// Subscribe registers a handler for an event type. Subscribing again under
// the same name replaces the earlier handler.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	// slices are never mutated in place, Emit holds on to its snapshot
	subs := slices.DeleteFunc(slices.Clone(eb.subs[eventType]), func(s subscriber) bool {
		return s.name == name
	})
	eb.subs[eventType] = append(subs, subscriber{name: name, fn: handler})

	eb.logger.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := slices.DeleteFunc(slices.Clone(eb.subs[eventType]), func(s subscriber) bool {
		return s.name == name
	})
	if len(subs) == 0 {
		delete(eb.subs, eventType)
		return
	}
	eb.subs[eventType] = subs
}

// Emit hands the event to every subscriber and returns without waiting.
// Handlers get a context that outlives the emitter's cancellation. Events
// emitted after Stop are dropped.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return
	}
	subs := eb.subs[event.Type]
	eb.inflight.Add(len(subs))
	eb.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	eb.logger.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(subs)).
		Msg("emit")

	hctx := context.WithoutCancel(ctx)
	for _, s := range subs {
		go eb.deliver(hctx, s, event)
	}
}

func (eb *EventBus) deliver(ctx context.Context, s subscriber, event Event) {
	defer eb.inflight.Done()

	logger := eb.logger.With().
		Str("event", string(event.Type)).
		Str("handler", s.name).
		Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("handler panicked")
		}
	}()

	if err := s.fn(ctx, event); err != nil {
		logger.Error().Err(err).Msg("handler failed")
	}
}

// Stop stops accepting new events and waits for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	eb.stopped = true
	eb.mu.Unlock()

	eb.inflight.Wait()
	eb.logger.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}

package eventing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventing: nil event")

// InMemoryBus fans events out to in-process handlers keyed by event type.
// Every handler runs even when an earlier one fails; the errors are joined.
type InMemoryBus struct {
	mu     sync.RWMutex
	routes map[string][]EventHandler
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{routes: make(map[string][]EventHandler)}
}

// Publish delivers event to the handlers subscribed to its type.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := EventType(event)
	b.mu.RLock()
	route := b.routes[eventType]
	b.mu.RUnlock()

	var errs []error
	for i, handler := range route {
		if err := deliver(ctx, handler, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler %d: %w", eventType, i, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for an event type. Empty types and nil
// handlers are ignored.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// copy on write so Publish can range over a snapshot without holding the lock
	route := make([]EventHandler, len(b.routes[eventType]), len(b.routes[eventType])+1)
	copy(route, b.routes[eventType])
	b.routes[eventType] = append(route, handler)
}

func deliver(ctx context.Context, handler EventHandler, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// EventType names an event by its Go type, dereferencing pointers.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	return typeName(reflect.TypeOf(event))
}

// EventTypeOf names the event type T.
func EventTypeOf[T any]() string {
	return typeName(reflect.TypeOf((*T)(nil)).Elem())
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

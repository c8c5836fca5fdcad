// Package event provides the minimal publish/subscribe plumbing shared by
// the connection and history layers. Handlers run synchronously on the
// emitting goroutine; subscribers that need isolation fan out themselves.
package event

import "sync"

// Handler receives the event payload.
type Handler func(payload any)

type subscription struct {
	id      int
	handler Handler
}

// Emitter is a small named-event dispatcher. The zero value is not usable;
// create one with NewEmitter.
type Emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]subscription
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]subscription)}
}

// On registers a handler for the named event and returns its unsubscribe
// function. Every registration must eventually be released through it.
func (e *Emitter) On(name string, handler Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers[name] = append(e.handlers[name], subscription{id: id, handler: handler})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.handlers[name]
		for i, s := range subs {
			if s.id == id {
				e.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Once registers a handler that fires at most one time. The guard mutex
// holds any emission from another goroutine until the unsubscribe function
// is in place.
func (e *Emitter) Once(name string, handler Handler) func() {
	var once sync.Once
	var mu sync.Mutex
	var off func()

	mu.Lock()
	off = e.On(name, func(payload any) {
		once.Do(func() {
			mu.Lock()
			f := off
			mu.Unlock()
			f()
			handler(payload)
		})
	})
	mu.Unlock()
	return off
}

// Emit invokes every handler registered for the named event, in registration
// order. Unknown names are a no-op.
func (e *Emitter) Emit(name string, payload any) {
	e.mu.Lock()
	subs := make([]subscription, len(e.handlers[name]))
	copy(subs, e.handlers[name])
	e.mu.Unlock()

	for _, s := range subs {
		s.handler(payload)
	}
}

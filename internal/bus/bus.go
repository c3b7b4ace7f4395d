// Package bus provides an in-process publish/subscribe emitter. Each target
// owns one emitter for its lifecycle events and the orchestrating service
// mirrors every target emitter into a single aggregate emitter.
package bus

import "sync"

// Emitter is a fan-out channel: Publish delivers the value to every
// subscriber registered at the time of the call.
type Emitter[T any] struct {
	mu     sync.Mutex
	subs   map[int]func(T)
	nextID int
	closed bool
}

// NewEmitter creates an empty emitter.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns a cancel function. Cancel is safe to
// call more than once.
func (e *Emitter[T]) Subscribe(fn func(T)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Publish delivers v to every current subscriber. Subscriber callbacks run
// outside the emitter lock, so a callback may subscribe, unsubscribe, or
// publish re-entrantly.
func (e *Emitter[T]) Publish(v T) {
	e.mu.Lock()
	fns := make([]func(T), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (e *Emitter[T]) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Close drops all subscribers and rejects new ones. Publishing to a closed
// emitter is a no-op.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	e.closed = true
	e.subs = map[int]func(T){}
	e.mu.Unlock()
}

// Mirror republishes everything published on src onto dst until the returned
// stop function is called. This is the fan-in primitive: an aggregate emitter
// mirrors many per-target emitters.
func Mirror[T any](src, dst *Emitter[T]) (stop func()) {
	return src.Subscribe(func(v T) {
		dst.Publish(v)
	})
}

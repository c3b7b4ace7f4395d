// Package stream provides a minimal single-producer observable used to carry
// asynchronous HTTP responses. A Stream delivers zero or more values to an
// Observer followed by exactly one terminal notification (error or complete).
package stream

// Observer receives notifications from a Stream. Any callback may be nil, in
// which case the corresponding notification is dropped.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Subscription is a handle to an active subscription. Unsubscribing stops
// delivery and releases any resources held by the producer. Unsubscribe is
// safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe calls the underlying function.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// Stream is a cold observable: each call to Subscribe runs the producer
// function with a fresh observer.
type Stream[T any] struct {
	subscribe func(*Observer[T]) Subscription
}

// New creates a Stream from a producer function. The producer is invoked once
// per Subscribe call and must honor the returned Subscription's Unsubscribe.
func New[T any](subscribe func(*Observer[T]) Subscription) *Stream[T] {
	return &Stream[T]{subscribe: subscribe}
}

// Subscribe attaches an observer and starts the producer.
func (s *Stream[T]) Subscribe(o *Observer[T]) Subscription {
	if o == nil {
		o = &Observer[T]{}
	}
	return s.subscribe(o)
}

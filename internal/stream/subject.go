package stream

import "sync"

type notificationKind int

const (
	kindNext notificationKind = iota
	kindError
	kindComplete
)

type notification[T any] struct {
	kind  notificationKind
	value T
	err   error
}

// Subject is a push-driven stream: values are fed in via Next/Error/Complete
// and delivered to every subscribed observer. Notifications received before an
// observer subscribes are buffered and replayed, so a subscriber attaching
// just after an asynchronous producer has fired still sees every notification.
// After a terminal notification the subject is closed and further pushes are
// dropped.
type Subject[T any] struct {
	mu        sync.Mutex
	observers map[int]*Observer[T]
	nextID    int
	buffer    []notification[T]
	done      bool
}

// NewSubject creates an open subject with no observers.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{observers: make(map[int]*Observer[T])}
}

// Next delivers a value to all observers.
func (s *Subject[T]) Next(v T) {
	s.push(notification[T]{kind: kindNext, value: v})
}

// Error terminates the subject with an error.
func (s *Subject[T]) Error(err error) {
	s.push(notification[T]{kind: kindError, err: err})
}

// Complete terminates the subject normally.
func (s *Subject[T]) Complete() {
	s.push(notification[T]{kind: kindComplete})
}

// Closed reports whether a terminal notification has been delivered.
func (s *Subject[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Subject[T]) push(n notification[T]) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.buffer = append(s.buffer, n)
	if n.kind != kindNext {
		s.done = true
	}
	observers := make([]*Observer[T], 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	// Callbacks run outside the lock so observers may re-enter the subject.
	for _, o := range observers {
		deliver(o, n)
	}
}

// Stream returns a subscribable view of the subject.
func (s *Subject[T]) Stream() *Stream[T] {
	return New(func(o *Observer[T]) Subscription {
		s.mu.Lock()
		id := s.nextID
		s.nextID++
		replay := make([]notification[T], len(s.buffer))
		copy(replay, s.buffer)
		if !s.done {
			s.observers[id] = o
		}
		s.mu.Unlock()

		for _, n := range replay {
			deliver(o, n)
		}

		return SubscriptionFunc(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	})
}

func deliver[T any](o *Observer[T], n notification[T]) {
	switch n.kind {
	case kindNext:
		if o.Next != nil {
			o.Next(n.value)
		}
	case kindError:
		if o.Error != nil {
			o.Error(n.err)
		}
	case kindComplete:
		if o.Complete != nil {
			o.Complete()
		}
	}
}

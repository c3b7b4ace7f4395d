package status

import (
	"sync"

	"github.com/opstream/opstream/internal/bus"
	"github.com/opstream/opstream/internal/target"
)

// Combined is the reduced status across every observed target. The boolean
// flags are OR-ed per target state; Labels holds the resolved label strings
// deduplicated in first-seen order.
type Combined struct {
	Processing bool
	Succeeded  bool
	Failed     bool
	Cancelled  bool
	Labels     []string
}

// entry is the per-target record: the last start event and, once the
// operation reached a terminal state, its end event.
type entry struct {
	start *target.Event
	end   *target.Event
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLabels sets user label overrides, consulted before the defaults.
func WithLabels(t Table) AggregatorOption {
	return func(a *Aggregator) { a.overrides = t }
}

// WithDefaults replaces the built-in default label table.
func WithDefaults(t Table) AggregatorOption {
	return func(a *Aggregator) { a.defaults = t }
}

// Aggregator subscribes to one or more event streams and reduces them into a
// Combined status keyed by target identity. The combined value is memoized
// and recomputed only after a new event arrives.
type Aggregator struct {
	mu        sync.Mutex
	entries   map[int64]*entry
	order     []int64
	overrides Table
	defaults  Table
	memo      *Combined
	stops     []func()
}

// NewAggregator creates an aggregator with the built-in default labels.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		entries:  make(map[int64]*entry),
		defaults: DefaultTable(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Watch subscribes the aggregator to an event emitter until the returned
// stop function (or Close) is called.
func (a *Aggregator) Watch(e *bus.Emitter[*target.Event]) (stop func()) {
	stop = e.Subscribe(a.Apply)
	a.mu.Lock()
	a.stops = append(a.stops, stop)
	a.mu.Unlock()
	return stop
}

// Apply folds one event into the aggregator state. A start event
// (re)initializes the target's entry, discarding any prior end state; a
// terminal event closes the entry, creating one defensively when the target
// was never seen.
func (a *Aggregator) Apply(ev *target.Event) {
	id := ev.Target.ID()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.memo = nil

	e, known := a.entries[id]
	if !known {
		e = &entry{}
		a.entries[id] = e
		a.order = append(a.order, id)
	}
	if !ev.Complete {
		e.start = ev
		e.end = nil
		return
	}
	if e.start == nil {
		e.start = ev
	}
	e.end = ev
}

// Status returns the combined status across all observed targets.
func (a *Aggregator) Status() Combined {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.memo != nil {
		return *a.memo
	}

	var c Combined
	seen := make(map[string]bool)
	for _, id := range a.order {
		e := a.entries[id]
		state, label := a.reduce(e)
		switch state {
		case stateProcessing:
			c.Processing = true
		case stateSucceeded:
			c.Succeeded = true
		case stateFailed:
			c.Failed = true
		case stateCancelled:
			c.Cancelled = true
		}
		if label != "" && !seen[label] {
			seen[label] = true
			c.Labels = append(c.Labels, label)
		}
	}

	a.memo = &c
	return c
}

// Close stops every Watch subscription and clears the state.
func (a *Aggregator) Close() {
	a.mu.Lock()
	stops := a.stops
	a.stops = nil
	a.entries = make(map[int64]*entry)
	a.order = nil
	a.memo = nil
	a.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

type targetState int

const (
	stateProcessing targetState = iota
	stateSucceeded
	stateFailed
	stateCancelled
)

func (a *Aggregator) reduce(e *entry) (targetState, string) {
	state := stateProcessing
	if e.end != nil {
		switch {
		case e.end.Cancel:
			state = stateCancelled
		case e.end.Err != nil:
			state = stateFailed
		default:
			state = stateSucceeded
		}
	}
	label := a.labelFor(e.start.Operation, state)
	return state, label.Resolve(e.start.Target.Value())
}

// labelFor resolves the label for an operation and state: the exact
// operation name is consulted before the wildcard, user overrides before the
// defaults.
func (a *Aggregator) labelFor(operation string, state targetState) Label {
	for _, key := range []string{operation, Wildcard} {
		for _, table := range []Table{a.overrides, a.defaults} {
			if table == nil {
				continue
			}
			ls, ok := table[key]
			if !ok {
				continue
			}
			if l := pick(ls, state); !l.IsZero() {
				return l
			}
		}
	}
	return Label{}
}

func pick(ls Labels, state targetState) Label {
	switch state {
	case stateProcessing:
		return ls.Processing
	case stateSucceeded:
		return ls.Succeeded
	case stateFailed:
		return ls.Failed
	case stateCancelled:
		return ls.Cancelled
	}
	return Label{}
}

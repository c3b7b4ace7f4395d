package target

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opstream/opstream/internal/bus"
	"github.com/opstream/opstream/internal/protocol"
	"github.com/opstream/opstream/internal/stream"
	"github.com/opstream/opstream/internal/transport"
)

// TargetOption configures a target at creation time.
type TargetOption func(*Target)

// WithProtocol sets the target's default protocol; without it the target
// uses the trivial passthrough protocol.
func WithProtocol(p protocol.Protocol) TargetOption {
	return func(t *Target) { t.proto = p }
}

// Target identifies one logical resource. A target owns its event emitter
// and at most one in-flight operation at any time; starting a new operation
// synchronously cancels the running one first.
type Target struct {
	service *Service
	id      int64
	value   any
	proto   protocol.Protocol
	events  *bus.Emitter[*Event]

	mu       sync.Mutex
	inflight *inflight
	gen      uint64
}

// inflight is the record of the single running operation. The generation and
// the response stream identity guard asynchronous callbacks: a callback whose
// generation or stream no longer matches the current record is stale and
// must no-op.
type inflight struct {
	id       uuid.UUID
	op       *Operation
	gen      uint64
	response *stream.Stream[*transport.Response]
	observer *stream.Subject[any]
	sub      stream.Subscription
	span     trace.Span
}

// ID returns the process-unique target id.
func (t *Target) ID() int64 { return t.id }

// Value returns the user-supplied value the target was created around.
func (t *Target) Value() any { return t.value }

// Events returns the target's own event emitter.
func (t *Target) Events() *bus.Emitter[*Event] { return t.events }

// Protocol returns the target's default protocol.
func (t *Target) Protocol() protocol.Protocol { return t.proto }

// CurrentOperation returns the name of the in-flight operation, or "" when
// the target is idle.
func (t *Target) CurrentOperation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight == nil {
		return ""
	}
	return t.inflight.op.name
}

// Cancel cancels the in-flight operation, delivering a *Cancellation to its
// observer and emitting a cancel event. It reports whether an operation was
// actually cancelled; cancelling an idle target emits nothing.
func (t *Target) Cancel() bool {
	return t.cancelWith(&Cancellation{})
}

// startOperation performs the cancel-then-start transition: the running
// operation, if any, is fully cancelled (its cancel event carrying the new
// operation's start event) before the start event is emitted and the new
// record installed.
func (t *Target) startOperation(op *Operation) *Event {
	start := NewStartEvent(t, op.name)
	t.cancelWith(&Cancellation{SupersededBy: start})

	t.mu.Lock()
	t.gen++
	rec := &inflight{id: uuid.New(), op: op, gen: t.gen}
	t.inflight = rec
	t.mu.Unlock()

	t.service.logger.Debug("operation started",
		slog.Int64("target_id", t.id),
		slog.String("operation", op.name),
		slog.String("invocation_id", rec.id.String()),
	)
	t.emit(start)
	return start
}

func (t *Target) cancelWith(cause *Cancellation) bool {
	t.mu.Lock()
	rec := t.inflight
	if rec == nil {
		t.mu.Unlock()
		return false
	}
	t.inflight = nil
	t.gen++
	t.mu.Unlock()

	if rec.observer != nil && !rec.observer.Closed() {
		t.deliverCancel(rec, cause)
	}
	t.emit(NewCancelEvent(t, rec.op.name, cause))
	t.cleanup(rec)
	return true
}

// deliverCancel pushes the cancellation to the in-flight observer. A panic
// from an observer callback is reported as a plain error event and re-raised
// after the record is released.
func (t *Target) deliverCancel(rec *inflight, cause *Cancellation) {
	defer func() {
		if r := recover(); r != nil {
			t.emit(NewErrorEvent(t, rec.op.name, panicError(r)))
			t.cleanup(rec)
			panic(r)
		}
	}()
	rec.observer.Error(cause)
}

// install sets the response stream and observer on the current record, which
// must happen before the transport stream is subscribed. It fails when the
// operation was superseded during request setup.
func (t *Target) install(op *Operation, resp *stream.Stream[*transport.Response], subject *stream.Subject[any], span trace.Span) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.inflight
	if rec == nil || rec.op != op {
		return 0, false
	}
	rec.response = resp
	rec.observer = subject
	rec.span = span
	return rec.gen, true
}

// attach records the transport subscription, or tears it down immediately
// when the operation was superseded while subscribing.
func (t *Target) attach(resp *stream.Stream[*transport.Response], sub stream.Subscription) {
	t.mu.Lock()
	rec := t.inflight
	if rec != nil && rec.response == resp {
		rec.sub = sub
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	sub.Unsubscribe()
}

// isCurrent is the stale-callback guard.
func (t *Target) isCurrent(resp *stream.Stream[*transport.Response], gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.inflight
	return rec != nil && rec.response == resp && rec.gen == gen
}

// take detaches the current record when it still matches resp, returning the
// target to idle.
func (t *Target) take(resp *stream.Stream[*transport.Response]) *inflight {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.inflight
	if rec == nil || rec.response != resp {
		return nil
	}
	t.inflight = nil
	t.gen++
	return rec
}

// failSetup reports a synchronous setup failure: the record is released and
// an error event emitted. The caller additionally receives the error as the
// verb method's return value.
func (t *Target) failSetup(op *Operation, err error) {
	t.mu.Lock()
	rec := t.inflight
	if rec != nil && rec.op == op {
		t.inflight = nil
		t.gen++
	} else {
		rec = nil
	}
	t.mu.Unlock()

	t.emit(NewErrorEvent(t, op.name, err))
	t.cleanup(rec)
}

// cleanup releases the resources of a detached record. Safe on nil and safe
// to call more than once.
func (t *Target) cleanup(rec *inflight) {
	if rec == nil {
		return
	}
	if rec.sub != nil {
		rec.sub.Unsubscribe()
		rec.sub = nil
	}
	if rec.span != nil {
		rec.span.End()
		rec.span = nil
	}
}

func (t *Target) emit(ev *Event) {
	t.service.logger.Debug("operation event",
		slog.Int64("target_id", t.id),
		slog.String("operation", ev.Operation),
		slog.String("kind", ev.Kind()),
	)
	t.events.Publish(ev)
}

// notify runs a caller-observer delivery, converting a panic into a
// secondary error event on the bus. It reports whether delivery succeeded.
func (t *Target) notify(op *Operation, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.emit(NewErrorEvent(t, op.name, panicError(r)))
		}
	}()
	fn()
	return true
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

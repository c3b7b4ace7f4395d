package target

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opstream/opstream/internal/config"
	"github.com/opstream/opstream/internal/protocol"
	"github.com/opstream/opstream/internal/stream"
	"github.com/opstream/opstream/internal/transport"
)

// Operation is a named, protocol-bound, reusable request template scoped to
// one target. It is stateless between invocations apart from request options
// accumulated with With.
type Operation struct {
	target *Target
	name   string
	proto  protocol.Protocol
	opts   transport.RequestOptions
}

// Operation derives an operation from the target. A nil proto inherits the
// target's protocol; otherwise the two are composed so that target-level
// request preparation always runs first (see protocol.Bind).
func (t *Target) Operation(name string, proto protocol.Protocol) *Operation {
	return &Operation{
		target: t,
		name:   name,
		proto:  protocol.Bind(t.proto, proto),
	}
}

// Name returns the operation name used for event classification and status
// labels.
func (op *Operation) Name() string { return op.name }

// Target returns the owning target.
func (op *Operation) Target() *Target { return op.target }

// Protocol returns the bound protocol.
func (op *Operation) Protocol() protocol.Protocol { return op.proto }

// With merges request options into the operation's accumulated set and
// returns the operation for chaining.
func (op *Operation) With(opts ...transport.Option) *Operation {
	for _, fn := range opts {
		fn(&op.opts)
	}
	return op
}

// Load performs a GET. Load and Get differ only in the conventional
// operation name they are used under.
func (op *Operation) Load(ctx context.Context, url string, opts ...transport.Option) (*stream.Stream[any], error) {
	return op.do(ctx, http.MethodGet, url, nil, false, opts)
}

// Get performs a GET.
func (op *Operation) Get(ctx context.Context, url string, opts ...transport.Option) (*stream.Stream[any], error) {
	return op.do(ctx, http.MethodGet, url, nil, false, opts)
}

// Send performs a POST carrying body through the protocol's write hook.
func (op *Operation) Send(ctx context.Context, url string, body any, opts ...transport.Option) (*stream.Stream[any], error) {
	return op.do(ctx, http.MethodPost, url, body, true, opts)
}

// Post performs a POST carrying body.
func (op *Operation) Post(ctx context.Context, url string, body any, opts ...transport.Option) (*stream.Stream[any], error) {
	return op.do(ctx, http.MethodPost, url, body, true, opts)
}

// Put performs a PUT carrying body.
func (op *Operation) Put(ctx context.Context, url string, body any, opts ...transport.Option) (*stream.Stream[any], error) {
	return op.do(ctx, http.MethodPut, url, body, true, opts)
}

// Patch performs a PATCH carrying body.
func (op *Operation) Patch(ctx context.Context, url string, body any, opts ...transport.Option) (*stream.Stream[any], error) {
	return op.do(ctx, http.MethodPatch, url, body, true, opts)
}

// Delete performs a DELETE.
func (op *Operation) Delete(ctx context.Context, url string, opts ...transport.Option) (*stream.Stream[any], error) {
	return op.do(ctx, http.MethodDelete, url, nil, false, opts)
}

// Head performs a HEAD.
func (op *Operation) Head(ctx context.Context, url string, opts ...transport.Option) (*stream.Stream[any], error) {
	return op.do(ctx, http.MethodHead, url, nil, false, opts)
}

// do is the template every verb method follows: start the operation
// (cancelling any running one), build the request options through the
// protocol's prepare and write hooks, issue the request, and wrap the
// response stream so its first terminal notification both satisfies the
// caller and emits the matching lifecycle event. Setup failures are emitted
// as error events and returned to the caller.
func (op *Operation) do(ctx context.Context, method, rawURL string, body any, hasBody bool, extra []transport.Option) (_ *stream.Stream[any], err error) {
	t := op.target
	t.startOperation(op)

	defer func() {
		if r := recover(); r != nil {
			t.failSetup(op, panicError(r))
			panic(r)
		}
		if err != nil {
			t.failSetup(op, err)
		}
	}()

	o := op.opts.Clone()
	for _, fn := range extra {
		fn(&o)
	}
	o.Method = method
	o.URL = config.RelativeURL(t.service.baseURL, rawURL)
	o = op.proto.PrepareRequest(o)
	if hasBody {
		if o, err = op.proto.WriteRequest(body, o); err != nil {
			return nil, err
		}
	}

	ctx, span := t.service.tracer.Start(ctx, "operation "+op.name, trace.WithAttributes(
		attribute.String("opstream.operation", op.name),
		attribute.Int64("opstream.target_id", t.id),
	))

	resp := t.service.transport.Request(ctx, o)
	subject := stream.NewSubject[any]()

	// The response stream is recorded on the in-flight record before it is
	// subscribed, so callbacks racing a synchronous re-entrant start can
	// detect they are stale.
	gen, ok := t.install(op, resp, subject, span)
	if !ok {
		// Superseded during setup; the caller still gets a terminated stream.
		span.End()
		subject.Error(&Cancellation{})
		return subject.Stream(), nil
	}

	sub := resp.Subscribe(op.wrap(resp, subject, gen))
	t.attach(resp, sub)
	return subject.Stream(), nil
}

// wrap builds the observer bridging the transport stream to the caller's
// subject and the event bus. Every callback no-ops when its stream has been
// superseded.
func (op *Operation) wrap(resp *stream.Stream[*transport.Response], subject *stream.Subject[any], gen uint64) *stream.Observer[*transport.Response] {
	t := op.target
	return &stream.Observer[*transport.Response]{
		Next: func(r *transport.Response) {
			if !t.isCurrent(resp, gen) {
				return
			}
			value, err := op.decode(r)
			if err != nil {
				// Decode failures never reach the caller's success path.
				t.emit(NewErrorEvent(t, op.name, err))
				return
			}
			if t.notify(op, func() { subject.Next(value) }) {
				t.emit(NewSuccessEvent(t, op.name, value))
			}
		},
		Error: func(err error) {
			if !t.isCurrent(resp, gen) {
				return
			}
			rec := t.take(resp)
			if h := op.proto.ErrorHandler(); h != nil {
				if mapped := h(err); mapped != nil {
					err = mapped
				}
			}
			if rec != nil && rec.span != nil {
				rec.span.RecordError(err)
				rec.span.SetStatus(codes.Error, "operation failed")
			}
			t.notify(op, func() { subject.Error(err) })
			t.emit(NewErrorEvent(t, op.name, err))
			t.cleanup(rec)
		},
		Complete: func() {
			if !t.isCurrent(resp, gen) {
				return
			}
			rec := t.take(resp)
			t.notify(op, func() { subject.Complete() })
			t.cleanup(rec)
		},
	}
}

// decode runs the protocol's read hook, converting a hook panic into an
// error.
func (op *Operation) decode(r *transport.Response) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value, err = nil, panicError(rec)
		}
	}()
	return op.proto.ReadResponse(r)
}

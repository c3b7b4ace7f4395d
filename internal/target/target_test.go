package target

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opstream/opstream/internal/httperr"
	"github.com/opstream/opstream/internal/protocol"
	"github.com/opstream/opstream/internal/stream"
	"github.com/opstream/opstream/internal/transport"
)

// fakeTransport hands out response streams whose delivery the test drives by
// hand, so every assertion runs on a fully deterministic interleaving.
type fakeTransport struct {
	mu      sync.Mutex
	pending []*pendingRequest
}

type pendingRequest struct {
	opts         transport.RequestOptions
	subject      *stream.Subject[*transport.Response]
	unsubscribed bool
}

func (f *fakeTransport) Request(ctx context.Context, o transport.RequestOptions) *stream.Stream[*transport.Response] {
	p := &pendingRequest{opts: o, subject: stream.NewSubject[*transport.Response]()}
	f.mu.Lock()
	f.pending = append(f.pending, p)
	f.mu.Unlock()

	return stream.New(func(obs *stream.Observer[*transport.Response]) stream.Subscription {
		sub := p.subject.Stream().Subscribe(obs)
		return stream.SubscriptionFunc(func() {
			p.unsubscribed = true
			sub.Unsubscribe()
		})
	})
}

func (f *fakeTransport) last() *pendingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[len(f.pending)-1]
}

func (p *pendingRequest) respond(r *transport.Response) {
	p.subject.Next(r)
	p.subject.Complete()
}

func (p *pendingRequest) fail(err error) {
	p.subject.Error(err)
}

func jsonResponse(body string) *transport.Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &transport.Response{Status: 200, StatusText: "OK", Header: h, Body: []byte(body)}
}

// recordEvents captures everything published on an emitter.
func recordEvents(t *Target) *[]*Event {
	var events []*Event
	t.Events().Subscribe(func(ev *Event) { events = append(events, ev) })
	return &events
}

func kinds(events []*Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func newTestService(ft *fakeTransport, opts ...ServiceOption) *Service {
	return NewService(append([]ServiceOption{WithTransport(ft)}, opts...)...)
}

func TestOperation_SuccessFlow(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	tg := svc.Target("users", WithProtocol(protocol.JSON()))
	events := recordEvents(tg)

	var got any
	completed := false
	s, err := tg.Operation("load", nil).Load(context.Background(), "/users")
	require.NoError(t, err)
	s.Subscribe(&stream.Observer[any]{
		Next:     func(v any) { got = v },
		Complete: func() { completed = true },
	})

	assert.Equal(t, "load", tg.CurrentOperation())
	assert.Equal(t, []string{"start"}, kinds(*events))

	ft.last().respond(jsonResponse(`[{"id":1}]`))

	assert.Equal(t, []string{"start", "success"}, kinds(*events))
	assert.Equal(t, []any{map[string]any{"id": float64(1)}}, got)
	assert.True(t, completed)
	assert.Equal(t, "", tg.CurrentOperation(), "target returns to idle")
	assert.True(t, ft.last().unsubscribed, "transport subscription released")

	success := (*events)[1]
	assert.True(t, success.Complete)
	assert.False(t, success.Cancel)
	assert.NoError(t, success.Err)
	assert.Same(t, tg, success.Target)
}

func TestOperation_SupersedeCancelsBeforeStart(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	tg := svc.Target("users", WithProtocol(protocol.JSON()))
	events := recordEvents(tg)

	var firstErr error
	s, err := tg.Operation("load", nil).Load(context.Background(), "/users")
	require.NoError(t, err)
	s.Subscribe(&stream.Observer[any]{Error: func(e error) { firstErr = e }})
	firstPending := ft.last()

	_, err = tg.Operation("create", nil).Post(context.Background(), "/users", map[string]any{"name": "x"})
	require.NoError(t, err)

	// Exactly one cancel for the first operation, strictly before the second
	// operation's start event.
	require.Equal(t, []string{"start", "cancel", "start"}, kinds(*events))

	cancelEv := (*events)[1]
	assert.Equal(t, "load", cancelEv.Operation)
	require.NotNil(t, cancelEv.CancelledBy)
	assert.Equal(t, "create", cancelEv.CancelledBy.Operation)
	assert.False(t, cancelEv.CancelledBy.Complete, "cancelledBy is the superseding start event")
	assert.Same(t, (*events)[2], cancelEv.CancelledBy)

	var c *Cancellation
	require.ErrorAs(t, firstErr, &c)
	assert.Same(t, cancelEv.CancelledBy, c.SupersededBy)

	// A stale delivery for the superseded response is a no-op.
	firstPending.respond(jsonResponse(`[]`))
	assert.Equal(t, []string{"start", "cancel", "start"}, kinds(*events))
	assert.Equal(t, "create", tg.CurrentOperation())

	ft.last().respond(jsonResponse(`{"id":2}`))
	assert.Equal(t, []string{"start", "cancel", "start", "success"}, kinds(*events))
}

func TestCancel_Idle(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	tg := svc.Target("users")
	events := recordEvents(tg)

	assert.False(t, tg.Cancel())
	assert.Empty(t, *events)
}

func TestCancel_Active(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	tg := svc.Target("users", WithProtocol(protocol.JSON()))
	events := recordEvents(tg)

	var gotErr error
	s, err := tg.Operation("load", nil).Load(context.Background(), "/users")
	require.NoError(t, err)
	s.Subscribe(&stream.Observer[any]{Error: func(e error) { gotErr = e }})

	assert.True(t, tg.Cancel())

	require.Equal(t, []string{"start", "cancel"}, kinds(*events))
	cancelEv := (*events)[1]
	assert.True(t, cancelEv.Cancel)
	assert.Nil(t, cancelEv.CancelledBy, "user-initiated cancel has no superseding event")

	var c *Cancellation
	require.ErrorAs(t, gotErr, &c)
	assert.Nil(t, c.SupersededBy)

	assert.Equal(t, "", tg.CurrentOperation())
	assert.True(t, ft.last().unsubscribed)

	// A second cancel is a no-op.
	assert.False(t, tg.Cancel())
	assert.Equal(t, []string{"start", "cancel"}, kinds(*events))
}

func TestOperation_UpstreamError(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	tg := svc.Target("users", WithProtocol(protocol.JSON()))
	events := recordEvents(tg)

	var gotErr error
	s, err := tg.Operation("load", nil).Load(context.Background(), "/users")
	require.NoError(t, err)
	s.Subscribe(&stream.Observer[any]{Error: func(e error) { gotErr = e }})

	boom := errors.New("connection reset")
	ft.last().fail(boom)

	require.Equal(t, []string{"start", "error"}, kinds(*events))
	assert.Equal(t, boom, gotErr, "no handler configured: error passes through unmodified")
	assert.Equal(t, boom, (*events)[1].Err)
	assert.Equal(t, "", tg.CurrentOperation())
}

func TestOperation_ErrorHandlerNormalizes(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft, WithDefaultErrorHandler(func(err error) error {
		return httperr.ToErrorResponse(err)
	}))
	tg := svc.Target("users", WithProtocol(protocol.JSON()))

	var gotErr error
	s, err := tg.Operation("load", nil).Load(context.Background(), "/users")
	require.NoError(t, err)
	s.Subscribe(&stream.Observer[any]{Error: func(e error) { gotErr = e }})

	ft.last().fail(&transport.Response{Status: 404, StatusText: "Not Found"})

	var er *httperr.ErrorResponse
	require.ErrorAs(t, gotErr, &er)
	assert.Equal(t, "HTTP404", er.FieldErrors[httperr.WildcardField][0].Code)
}

func TestOperation_DecodeErrorEmitsEventOnly(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	decodeErr := errors.New("bad payload")
	proto := protocol.ReadWith(protocol.JSON(), func(*transport.Response) (any, error) {
		return nil, decodeErr
	})
	tg := svc.Target("users", WithProtocol(proto))
	events := recordEvents(tg)

	var got any
	var gotErr error
	completed := false
	s, err := tg.Operation("load", nil).Load(context.Background(), "/users")
	require.NoError(t, err)
	s.Subscribe(&stream.Observer[any]{
		Next:     func(v any) { got = v },
		Error:    func(e error) { gotErr = e },
		Complete: func() { completed = true },
	})

	ft.last().respond(jsonResponse(`{}`))

	assert.Equal(t, []string{"start", "error"}, kinds(*events))
	assert.Equal(t, decodeErr, (*events)[1].Err)
	assert.Nil(t, got, "decode failure must not reach the success path")
	assert.NoError(t, gotErr)
	assert.True(t, completed, "upstream completion still completes the caller")
	assert.Equal(t, "", tg.CurrentOperation())
}

func TestOperation_SetupErrorReturnedAndEmitted(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	tg := svc.Target("users", WithProtocol(protocol.JSON()))
	events := recordEvents(tg)

	// Channels cannot be JSON-encoded, so the write hook fails synchronously.
	_, err := tg.Operation("create", nil).Post(context.Background(), "/users", make(chan int))
	require.Error(t, err)

	require.Equal(t, []string{"start", "error"}, kinds(*events))
	assert.Equal(t, err, (*events)[1].Err)
	assert.Equal(t, "", tg.CurrentOperation(), "failed setup returns the target to idle")
	assert.Empty(t, ft.pending, "no request was issued")
}

func TestOperation_BaseURLAndOptions(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft, WithBaseURL("/api"))
	tg := svc.Target("users", WithProtocol(protocol.JSON()))

	op := tg.Operation("load", nil).With(transport.WithHeader("X-Token", "abc"))
	_, err := op.Load(context.Background(), "users", transport.WithQuery("page", "2"))
	require.NoError(t, err)

	sent := ft.last().opts
	assert.Equal(t, "/api/users", sent.URL)
	assert.Equal(t, http.MethodGet, sent.Method)
	assert.Equal(t, "abc", sent.Header.Get("X-Token"))
	assert.Equal(t, "2", sent.Query.Get("page"))
}

func TestObserverPanicDuringCancelReRaises(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	tg := svc.Target("users", WithProtocol(protocol.JSON()))
	events := recordEvents(tg)

	s, err := tg.Operation("load", nil).Load(context.Background(), "/users")
	require.NoError(t, err)
	s.Subscribe(&stream.Observer[any]{Error: func(error) { panic("subscriber broke") }})

	require.Panics(t, func() { tg.Cancel() })

	// The panic is reported as a plain error event and the target is idle.
	require.Equal(t, []string{"start", "error"}, kinds(*events))
	assert.ErrorContains(t, (*events)[1].Err, "subscriber broke")
	assert.Equal(t, "", tg.CurrentOperation())
}

func TestService_EventFanIn(t *testing.T) {
	ft := &fakeTransport{}
	svc := newTestService(ft)
	var global []*Event
	svc.Events().Subscribe(func(ev *Event) { global = append(global, ev) })

	a := svc.Target("a", WithProtocol(protocol.JSON()))
	b := svc.Target("b", WithProtocol(protocol.JSON()))

	_, err := a.Operation("load", nil).Load(context.Background(), "/a")
	require.NoError(t, err)
	_, err = b.Operation("load", nil).Load(context.Background(), "/b")
	require.NoError(t, err)
	ft.last().respond(jsonResponse(`{}`))

	require.Len(t, global, 3)
	assert.Same(t, a, global[0].Target)
	assert.Same(t, b, global[1].Target)
	assert.Equal(t, "success", global[2].Kind())

	svc.Close()
	a.Cancel()
	assert.Len(t, global, 3, "closed service no longer mirrors target events")
}

func TestService_TargetIDsMonotonic(t *testing.T) {
	svc := newTestService(&fakeTransport{})
	first := svc.Target("x")
	second := svc.Target("y")
	assert.Equal(t, first.ID()+1, second.ID())
	assert.Equal(t, "x", first.Value())
}

func TestService_AttachesDefaultErrorHandlerOnce(t *testing.T) {
	handler := func(err error) error { return err }
	svc := newTestService(&fakeTransport{}, WithDefaultErrorHandler(handler))

	plain := svc.Target("x")
	require.NotNil(t, plain.Protocol().ErrorHandler())

	own := errors.New("own")
	withOwn := svc.Target("y", WithProtocol(
		protocol.HandleErrorWith(protocol.JSON(), func(error) error { return own })))
	assert.Equal(t, own, withOwn.Protocol().ErrorHandler()(errors.New("e")))
}

// Package target implements the operation lifecycle core: named targets on
// which named, protocol-bound operations run, with at most one in-flight
// operation per target, uniform start/success/error/cancel events on a
// per-target and a service-wide bus, and synchronous cancel-before-start
// semantics when a new operation supersedes a running one.
package target

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/opstream/opstream/internal/bus"
	"github.com/opstream/opstream/internal/protocol"
	"github.com/opstream/opstream/internal/stream"
	"github.com/opstream/opstream/internal/transport"
)

const tracerName = "github.com/opstream/opstream"

// Transport issues HTTP requests and exposes each response as a single-shot
// stream. *transport.Client is the production implementation.
type Transport interface {
	Request(ctx context.Context, o transport.RequestOptions) *stream.Stream[*transport.Response]
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTransport sets the transport; the default is a plain transport.Client.
func WithTransport(tr Transport) ServiceOption {
	return func(s *Service) { s.transport = tr }
}

// WithBaseURL sets the base URL relative operation URLs resolve against.
func WithBaseURL(baseURL string) ServiceOption {
	return func(s *Service) { s.baseURL = baseURL }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithDefaultErrorHandler sets the handler attached to every target whose
// protocol does not already carry one.
func WithDefaultErrorHandler(h protocol.ErrorHandler) ServiceOption {
	return func(s *Service) { s.defaultErrHandler = h }
}

// Service creates targets and aggregates every target's event stream into a
// single service-wide emitter. One Service is constructed per application
// scope; it owns the target id sequence.
type Service struct {
	transport         Transport
	baseURL           string
	defaultErrHandler protocol.ErrorHandler
	logger            *slog.Logger
	tracer            trace.Tracer

	events *bus.Emitter[*Event]
	nextID atomic.Int64

	mu      sync.Mutex
	mirrors []func()
	closed  bool
}

// NewService creates a Service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		events: bus.NewEmitter[*Event](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		topts := []transport.ClientOption{transport.WithLogger(s.logger)}
		if s.baseURL != "" {
			// Host-absolute operation URLs ("/users") bypass RelativeURL, so
			// the default transport resolves them against the same base.
			topts = append(topts, transport.WithBaseURL(s.baseURL))
		}
		s.transport = transport.NewClient(topts...)
	}
	return s
}

// Events returns the service-wide emitter carrying every target's events.
func (s *Service) Events() *bus.Emitter[*Event] {
	return s.events
}

// BaseURL returns the configured base URL.
func (s *Service) BaseURL() string {
	return s.baseURL
}

// Target creates a new target around value. Each target gets a
// process-unique, monotonically assigned id. When the target's protocol has
// no error handler and a service default is configured, the default is
// attached once.
func (s *Service) Target(value any, opts ...TargetOption) *Target {
	t := &Target{
		service: s,
		id:      s.nextID.Add(1),
		value:   value,
		proto:   protocol.Passthrough(),
		events:  bus.NewEmitter[*Event](),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.proto.ErrorHandler() == nil && s.defaultErrHandler != nil {
		t.proto = protocol.HandleErrorWith(t.proto, s.defaultErrHandler)
	}

	stop := bus.Mirror(t.events, s.events)
	s.mu.Lock()
	s.mirrors = append(s.mirrors, stop)
	s.mu.Unlock()

	s.logger.Debug("target created",
		slog.Int64("target_id", t.id),
		slog.Any("value", value),
	)
	return t
}

// Close stops mirroring target events and closes the service emitter.
// Targets remain usable but their events no longer reach the aggregate bus.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	mirrors := s.mirrors
	s.mirrors = nil
	s.mu.Unlock()

	for _, stop := range mirrors {
		stop()
	}
	s.events.Close()
}

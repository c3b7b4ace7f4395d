// Package opstream is the public API for the HTTP operation orchestration
// layer. Applications create a Service, derive Targets (logical resources)
// and named Operations from it, and subscribe to the uniform
// start/success/error/cancel event stream every operation emits. At most one
// operation runs per target; starting a new one cancels the running one
// first.
package opstream

import (
	"github.com/opstream/opstream/internal/httperr"
	"github.com/opstream/opstream/internal/protocol"
	"github.com/opstream/opstream/internal/status"
	"github.com/opstream/opstream/internal/target"
	"github.com/opstream/opstream/internal/transport"
)

// Core types.
type (
	Service      = target.Service
	Target       = target.Target
	Operation    = target.Operation
	Resource     = target.Resource
	Event        = target.Event
	Cancellation = target.Cancellation
)

// NewService creates the orchestrating service. One per application scope.
var NewService = target.NewService

// Service options.
var (
	WithTransport           = target.WithTransport
	WithBaseURL             = target.WithBaseURL
	WithLogger              = target.WithLogger
	WithDefaultErrorHandler = target.WithDefaultErrorHandler
)

// Target options.
var WithProtocol = target.WithProtocol

// Protocols and their combinators.
type Protocol = protocol.Protocol

var (
	JSON        = protocol.JSON
	Raw         = protocol.Raw
	Passthrough = protocol.Passthrough

	PrepareWith     = protocol.PrepareWith
	PrepareAfter    = protocol.PrepareAfter
	WriteWith       = protocol.WriteWith
	UpdateWith      = protocol.UpdateWith
	UpdateAfter     = protocol.UpdateAfter
	ReadWith        = protocol.ReadWith
	HandleErrorWith = protocol.HandleErrorWith
)

// Request options.
var (
	WithHeader = transport.WithHeader
	WithQuery  = transport.WithQuery
	WithBody   = transport.WithBody
)

// Transport client.
type TransportClient = transport.Client

var NewTransport = transport.NewClient

// Error normalization.
type (
	ErrorResponse = httperr.ErrorResponse
	FieldError    = httperr.FieldError
	FieldErrors   = httperr.FieldErrors
)

var (
	ToErrorResponse = httperr.ToErrorResponse
	ToFieldErrors   = httperr.ToFieldErrors
)

// Status aggregation.
type (
	StatusAggregator = status.Aggregator
	CombinedStatus   = status.Combined
	LabelTable       = status.Table
	Labels           = status.Labels
)

var (
	NewStatusAggregator = status.NewAggregator
	WithLabels          = status.WithLabels
	TextLabel           = status.Text
	FuncLabel           = status.Func
	DefaultLabels       = status.DefaultTable
)

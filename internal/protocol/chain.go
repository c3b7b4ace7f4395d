package protocol

import "github.com/opstream/opstream/internal/transport"

// chain is one decoration node: hooks left nil delegate to the parent. The
// error handler is copied from the parent at construction time rather than
// read through it, so replacing the parent's handler later does not affect
// already-built children. Decoding combinators rely on this to keep a handler
// attached through further decoration.
type chain struct {
	parent  Protocol
	prepare PrepareFunc
	write   WriteFunc
	read    ReadFunc
	errh    ErrorHandler
}

func (c *chain) PrepareRequest(o transport.RequestOptions) transport.RequestOptions {
	if c.prepare != nil {
		return c.prepare(o)
	}
	return c.parent.PrepareRequest(o)
}

func (c *chain) WriteRequest(body any, o transport.RequestOptions) (transport.RequestOptions, error) {
	if c.write != nil {
		return c.write(body, o)
	}
	return c.parent.WriteRequest(body, o)
}

func (c *chain) ReadResponse(r *transport.Response) (any, error) {
	if c.read != nil {
		return c.read(r)
	}
	return c.parent.ReadResponse(r)
}

func (c *chain) ErrorHandler() ErrorHandler { return c.errh }

// PrepareWith returns a protocol that applies fn to the options and then runs
// base's prepare hook. Write, read, and the error handler come from base.
func PrepareWith(base Protocol, fn PrepareFunc) Protocol {
	return &chain{
		parent: base,
		errh:   base.ErrorHandler(),
		prepare: func(o transport.RequestOptions) transport.RequestOptions {
			return base.PrepareRequest(fn(o))
		},
	}
}

// PrepareAfter is PrepareWith with the composition order flipped: base's
// prepare hook runs first, then fn.
func PrepareAfter(base Protocol, fn PrepareFunc) Protocol {
	return &chain{
		parent: base,
		errh:   base.ErrorHandler(),
		prepare: func(o transport.RequestOptions) transport.RequestOptions {
			return fn(base.PrepareRequest(o))
		},
	}
}

// WriteWith returns a protocol whose write hook is fn entirely; prepare,
// read, and the error handler come from base.
func WriteWith(base Protocol, fn WriteFunc) Protocol {
	return &chain{parent: base, errh: base.ErrorHandler(), write: fn}
}

// UpdateWith returns a protocol that applies fn to the options and then runs
// base's write hook with the result.
func UpdateWith(base Protocol, fn PrepareFunc) Protocol {
	return &chain{
		parent: base,
		errh:   base.ErrorHandler(),
		write: func(body any, o transport.RequestOptions) (transport.RequestOptions, error) {
			return base.WriteRequest(body, fn(o))
		},
	}
}

// UpdateAfter is UpdateWith with the order flipped: base's write hook runs
// first, then fn transforms its result.
func UpdateAfter(base Protocol, fn PrepareFunc) Protocol {
	return &chain{
		parent: base,
		errh:   base.ErrorHandler(),
		write: func(body any, o transport.RequestOptions) (transport.RequestOptions, error) {
			o, err := base.WriteRequest(body, o)
			if err != nil {
				return o, err
			}
			return fn(o), nil
		},
	}
}

// ReadWith returns a protocol whose read hook is fn entirely; the other hooks
// come from base.
func ReadWith(base Protocol, fn ReadFunc) Protocol {
	return &chain{parent: base, errh: base.ErrorHandler(), read: fn}
}

// HandleErrorWith returns a protocol with h as its error handler; all other
// hooks delegate to base.
func HandleErrorWith(base Protocol, h ErrorHandler) Protocol {
	return &chain{parent: base, errh: h}
}

// Bind resolves the protocol an operation runs with, given the owning
// target's protocol and the operation's requested one:
//
//   - no requested protocol: the target's applies as-is;
//   - the target's protocol is the trivial passthrough (or the same one):
//     the requested protocol applies as-is;
//   - otherwise a synthetic node runs the target's prepare hook first, then
//     the requested protocol's, so target-level URL and header setup always
//     applies before operation-specific preparation.
func Bind(targetProto, opProto Protocol) Protocol {
	switch {
	case opProto == nil:
		return targetProto
	case targetProto == nil, opProto == targetProto, IsPassthrough(targetProto):
		return opProto
	}
	bound := PrepareWith(opProto, targetProto.PrepareRequest)
	if bound.ErrorHandler() == nil && targetProto.ErrorHandler() != nil {
		bound = HandleErrorWith(bound, targetProto.ErrorHandler())
	}
	return bound
}

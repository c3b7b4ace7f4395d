// Package protocol defines the composable request/response pipeline bound to
// targets and operations. A Protocol has four hooks: prepare the request
// options, write the request body, read the response, and handle errors.
// Combinators wrap an existing protocol to override one hook while delegating
// the rest; wrapping never mutates the wrapped protocol.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/opstream/opstream/internal/transport"
)

// PrepareFunc transforms request options before a request is issued.
type PrepareFunc func(transport.RequestOptions) transport.RequestOptions

// WriteFunc encodes a request body into the options.
type WriteFunc func(body any, o transport.RequestOptions) (transport.RequestOptions, error)

// ReadFunc decodes a response into a caller-facing value.
type ReadFunc func(*transport.Response) (any, error)

// ErrorHandler transforms an operation error before it reaches the caller.
// Returning nil keeps the original error.
type ErrorHandler func(error) error

// Protocol is one node of an immutable decoration chain.
type Protocol interface {
	PrepareRequest(o transport.RequestOptions) transport.RequestOptions
	WriteRequest(body any, o transport.RequestOptions) (transport.RequestOptions, error)
	ReadResponse(r *transport.Response) (any, error)

	// ErrorHandler returns the node's error handler, or nil when none is
	// attached.
	ErrorHandler() ErrorHandler
}

// leaf is a chain terminator built from plain hook functions.
type leaf struct {
	name  string
	write WriteFunc
	read  ReadFunc
}

func (l *leaf) PrepareRequest(o transport.RequestOptions) transport.RequestOptions {
	return o
}

func (l *leaf) WriteRequest(body any, o transport.RequestOptions) (transport.RequestOptions, error) {
	return l.write(body, o)
}

func (l *leaf) ReadResponse(r *transport.Response) (any, error) {
	return l.read(r)
}

func (l *leaf) ErrorHandler() ErrorHandler { return nil }

func (l *leaf) String() string { return l.name }

var (
	jsonLeaf = &leaf{
		name: "json",
		write: func(body any, o transport.RequestOptions) (transport.RequestOptions, error) {
			data, err := json.Marshal(body)
			if err != nil {
				return o, fmt.Errorf("encode request body: %w", err)
			}
			o.Body = data
			o.SetHeader("Content-Type", "application/json")
			return o, nil
		},
		read: func(r *transport.Response) (any, error) {
			return r.JSON()
		},
	}

	rawLeaf = &leaf{
		name: "raw",
		write: func(body any, o transport.RequestOptions) (transport.RequestOptions, error) {
			switch b := body.(type) {
			case nil:
			case []byte:
				o.Body = b
			case string:
				o.Body = []byte(b)
			default:
				return o, fmt.Errorf("raw protocol cannot encode %T request body", body)
			}
			return o, nil
		},
		read: func(r *transport.Response) (any, error) {
			return r.Body, nil
		},
	}

	passthroughLeaf = &leaf{
		name: "passthrough",
		write: func(body any, o transport.RequestOptions) (transport.RequestOptions, error) {
			switch b := body.(type) {
			case nil:
			case []byte:
				o.Body = b
			case string:
				o.Body = []byte(b)
			default:
				return o, fmt.Errorf("passthrough protocol cannot encode %T request body", body)
			}
			return o, nil
		},
		read: func(r *transport.Response) (any, error) {
			return r, nil
		},
	}
)

// JSON returns the protocol that encodes request bodies as JSON (setting the
// content-type header) and decodes JSON response bodies.
func JSON() Protocol { return jsonLeaf }

// Raw returns the protocol that passes byte/string bodies through unchanged
// and reads the raw response body.
func Raw() Protocol { return rawLeaf }

// Passthrough returns the trivial protocol: bodies pass through and reading
// yields the transport response itself. It is the default protocol of a
// target created without one.
func Passthrough() Protocol { return passthroughLeaf }

// IsPassthrough reports whether p is the trivial passthrough leaf.
func IsPassthrough(p Protocol) bool { return p == passthroughLeaf }

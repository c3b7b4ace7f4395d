package target

import (
	"context"
	"strings"

	"github.com/opstream/opstream/internal/stream"
	"github.com/opstream/opstream/internal/transport"
)

// Resource is a thin CRUD convenience over a target: each method runs the
// conventionally-named operation against the resource path.
type Resource struct {
	target *Target
	path   string
}

// Resource creates a target around value and wraps it as a CRUD resource
// rooted at path.
func (s *Service) Resource(value any, path string, opts ...TargetOption) *Resource {
	return &Resource{target: s.Target(value, opts...), path: path}
}

// Target returns the underlying target.
func (r *Resource) Target() *Target { return r.target }

// Read loads the resource ("read" operation).
func (r *Resource) Read(ctx context.Context, opts ...transport.Option) (*stream.Stream[any], error) {
	return r.target.Operation("read", nil).Get(ctx, r.path, opts...)
}

// Create posts body to the resource path ("create" operation).
func (r *Resource) Create(ctx context.Context, body any, opts ...transport.Option) (*stream.Stream[any], error) {
	return r.target.Operation("create", nil).Post(ctx, r.path, body, opts...)
}

// Update puts body to the item identified by id ("update" operation).
func (r *Resource) Update(ctx context.Context, id string, body any, opts ...transport.Option) (*stream.Stream[any], error) {
	return r.target.Operation("update", nil).Put(ctx, joinPath(r.path, id), body, opts...)
}

// Delete removes the item identified by id ("delete" operation).
func (r *Resource) Delete(ctx context.Context, id string, opts ...transport.Option) (*stream.Stream[any], error) {
	return r.target.Operation("delete", nil).Delete(ctx, joinPath(r.path, id), opts...)
}

// Send posts body to the resource path under the "send" operation name.
func (r *Resource) Send(ctx context.Context, body any, opts ...transport.Option) (*stream.Stream[any], error) {
	return r.target.Operation("send", nil).Send(ctx, r.path, body, opts...)
}

func joinPath(base, elem string) string {
	if elem == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(elem, "/")
}

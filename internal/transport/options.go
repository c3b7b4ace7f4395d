package transport

import (
	"net/http"
	"net/url"
)

// RequestOptions carries everything needed to issue one HTTP request. Protocol
// hooks transform a RequestOptions value; the transport consumes the final
// form. The zero value is usable.
type RequestOptions struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Clone returns a deep copy so protocol hooks never mutate shared state.
func (o RequestOptions) Clone() RequestOptions {
	c := o
	if o.Header != nil {
		c.Header = o.Header.Clone()
	}
	if o.Query != nil {
		c.Query = url.Values{}
		for k, vs := range o.Query {
			c.Query[k] = append([]string(nil), vs...)
		}
	}
	if o.Body != nil {
		c.Body = append([]byte(nil), o.Body...)
	}
	return c
}

// SetHeader sets a header, allocating the map on first use.
func (o *RequestOptions) SetHeader(key, value string) {
	if o.Header == nil {
		o.Header = http.Header{}
	}
	o.Header.Set(key, value)
}

// SetQuery sets a query parameter, allocating the map on first use.
func (o *RequestOptions) SetQuery(key, value string) {
	if o.Query == nil {
		o.Query = url.Values{}
	}
	o.Query.Set(key, value)
}

// Option mutates a RequestOptions during request building.
type Option func(*RequestOptions)

// WithHeader sets a request header.
func WithHeader(key, value string) Option {
	return func(o *RequestOptions) { o.SetHeader(key, value) }
}

// WithQuery sets a query parameter.
func WithQuery(key, value string) Option {
	return func(o *RequestOptions) { o.SetQuery(key, value) }
}

// WithBody sets a pre-encoded request body.
func WithBody(body []byte) Option {
	return func(o *RequestOptions) { o.Body = body }
}

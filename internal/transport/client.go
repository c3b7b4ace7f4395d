// Package transport issues HTTP requests and exposes each response as a
// single-shot subscribable stream with next/error/complete semantics.
// Unsubscribing cancels the underlying request.
package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opstream/opstream/internal/stream"
)

const defaultTimeout = 120 * time.Second

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a base URL prepended to request URLs that are not already
// absolute.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is an HTTP client whose verb methods return response streams.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. The default underlying http.Client carries an
// otelhttp-instrumented transport.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request issues a request described by o and returns its response stream.
// The request is started when the stream is subscribed; unsubscribing cancels
// it. Exactly one of the following is delivered: a 2xx Response via Next
// followed by Complete, or an error (a non-2xx *Response or a transport
// failure) via Error.
func (c *Client) Request(ctx context.Context, o RequestOptions) *stream.Stream[*Response] {
	return stream.New(func(obs *stream.Observer[*Response]) stream.Subscription {
		reqCtx, cancel := context.WithCancel(ctx)
		go c.roundTrip(reqCtx, o, obs)
		return stream.SubscriptionFunc(cancel)
	})
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, o RequestOptions) *stream.Stream[*Response] {
	o.Method = http.MethodGet
	return c.Request(ctx, o)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, o RequestOptions) *stream.Stream[*Response] {
	o.Method = http.MethodPost
	return c.Request(ctx, o)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, o RequestOptions) *stream.Stream[*Response] {
	o.Method = http.MethodPut
	return c.Request(ctx, o)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, o RequestOptions) *stream.Stream[*Response] {
	o.Method = http.MethodDelete
	return c.Request(ctx, o)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, o RequestOptions) *stream.Stream[*Response] {
	o.Method = http.MethodPatch
	return c.Request(ctx, o)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, o RequestOptions) *stream.Stream[*Response] {
	o.Method = http.MethodHead
	return c.Request(ctx, o)
}

func (c *Client) roundTrip(ctx context.Context, o RequestOptions, obs *stream.Observer[*Response]) {
	resp, err := c.do(ctx, o)
	if ctx.Err() != nil {
		// Unsubscribed or caller context cancelled: deliver nothing.
		return
	}
	if err != nil {
		if obs.Error != nil {
			obs.Error(err)
		}
		return
	}
	if !resp.OK() {
		if obs.Error != nil {
			obs.Error(resp)
		}
		return
	}
	if obs.Next != nil {
		obs.Next(resp)
	}
	if obs.Complete != nil {
		obs.Complete()
	}
}

func (c *Client) do(ctx context.Context, o RequestOptions) (*Response, error) {
	method := o.Method
	if method == "" {
		method = http.MethodGet
	}
	url := o.URL
	if c.baseURL != "" && !strings.Contains(url, "://") && !strings.HasPrefix(url, "//") {
		url = c.baseURL + "/" + strings.TrimPrefix(url, "/")
	}
	if len(o.Query) > 0 {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + o.Query.Encode()
	}

	var body io.Reader
	if len(o.Body) > 0 {
		body = bytes.NewReader(o.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range o.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("request finished",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status", httpResp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	return &Response{
		Status:     httpResp.StatusCode,
		StatusText: statusText(httpResp),
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// statusText strips the numeric prefix Go keeps in http.Response.Status
// ("404 Not Found" -> "Not Found").
func statusText(r *http.Response) string {
	text := r.Status
	if i := strings.IndexByte(text, ' '); i >= 0 {
		text = text[i+1:]
	}
	return text
}

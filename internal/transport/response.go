package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is a fully-read HTTP response. Non-2xx responses are delivered on
// the error path of the response stream, so Response implements error.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

// Error makes a Response usable as the error value of a failed request.
func (r *Response) Error() string {
	if r.StatusText != "" {
		return fmt.Sprintf("HTTP %d: %s", r.Status, r.StatusText)
	}
	return fmt.Sprintf("HTTP %d", r.Status)
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ContentType returns the Content-Type header, or "" when absent.
func (r *Response) ContentType() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// JSON decodes the body. An empty body decodes to nil.
func (r *Response) JSON() (any, error) {
	if len(r.Body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return v, nil
}

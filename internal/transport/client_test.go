package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opstream/opstream/internal/stream"
)

func collect(t *testing.T, s *stream.Stream[*Response]) (*Response, error, bool) {
	t.Helper()

	var (
		got       *Response
		gotErr    error
		completed bool
		done      = make(chan struct{})
	)
	s.Subscribe(&stream.Observer[*Response]{
		Next:  func(r *Response) { got = r },
		Error: func(err error) { gotErr = err; close(done) },
		Complete: func() {
			completed = true
			close(done)
		},
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response stream")
	}
	return got, gotErr, completed
}

func TestClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/things/1" {
			t.Errorf("path = %q, want /things/1", r.URL.Path)
		}
		if r.URL.Query().Get("expand") != "full" {
			t.Errorf("query expand = %q, want full", r.URL.Query().Get("expand"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	o := RequestOptions{URL: "/things/1"}
	o.SetQuery("expand", "full")

	resp, err, completed := collect(t, c.Get(context.Background(), o))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Error("expected completion after value")
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
	if resp.ContentType() != "application/json" {
		t.Errorf("ContentType = %q", resp.ContentType())
	}
	if string(resp.Body) != `{"id":1}` {
		t.Errorf("Body = %s", resp.Body)
	}
}

func TestClient_NonOKDeliveredAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err, _ := collect(t, c.Get(context.Background(), RequestOptions{URL: "missing"}))

	resp, ok := err.(*Response)
	if !ok {
		t.Fatalf("error = %T(%v), want *Response", err, err)
	}
	if resp.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.Status)
	}
	if resp.StatusText != "Not Found" {
		t.Errorf("StatusText = %q, want Not Found", resp.StatusText)
	}
}

func TestClient_PostBodyAndHeaders(t *testing.T) {
	var gotBody string
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	o := RequestOptions{URL: "items", Body: []byte(`{"name":"x"}`)}
	o.SetHeader("Content-Type", "application/json")

	resp, err, _ := collect(t, c.Post(context.Background(), o))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("Status = %d, want 201", resp.Status)
	}
	if gotBody != `{"name":"x"}` {
		t.Errorf("server saw body %q", gotBody)
	}
	if gotType != "application/json" {
		t.Errorf("server saw content type %q", gotType)
	}
}

func TestClient_UnsubscribeDeliversNothing(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(WithBaseURL(srv.URL))
	delivered := make(chan struct{}, 1)
	sub := c.Get(context.Background(), RequestOptions{URL: "slow"}).Subscribe(&stream.Observer[*Response]{
		Next:  func(*Response) { delivered <- struct{}{} },
		Error: func(error) { delivered <- struct{}{} },
	})
	sub.Unsubscribe()

	select {
	case <-delivered:
		t.Fatal("unsubscribed stream delivered a notification")
	case <-time.After(100 * time.Millisecond):
	}
}

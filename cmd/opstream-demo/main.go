// Command opstream-demo runs a small in-memory JSON API and drives a few
// orchestrated operations against it, printing the lifecycle events and the
// combined status as they happen.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opstream/opstream/internal/config"
	"github.com/opstream/opstream/internal/journal"
	"github.com/opstream/opstream/internal/metrics"
	"github.com/opstream/opstream/internal/stream"
	"github.com/opstream/opstream/internal/telemetry"
	"github.com/opstream/opstream/pkg/opstream"
)

func main() {
	if err := run(); err != nil {
		slog.Error("demo failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("OPSTREAM_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Init(cfg.Telemetry.Service, cfg.Telemetry.Enabled, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	reg := prometheus.NewRegistry()
	baseURL, stopServer, err := serveAPI(cfg.Server.Port, reg, logger)
	if err != nil {
		return err
	}
	defer stopServer()

	svc := opstream.NewService(
		opstream.WithBaseURL(baseURL),
		opstream.WithLogger(logger),
		opstream.WithDefaultErrorHandler(func(err error) error {
			return opstream.ToErrorResponse(err)
		}),
	)
	defer svc.Close()

	svc.Events().Subscribe(func(ev *opstream.Event) {
		logger.Info("event",
			slog.Int64("target", ev.Target.ID()),
			slog.String("operation", ev.Operation),
			slog.String("kind", ev.Kind()),
		)
	})

	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	collector.Watch(svc.Events())

	agg := opstream.NewStatusAggregator()
	defer agg.Close()
	agg.Watch(svc.Events())

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
		store.Watch(svc.Events())
	}

	users := svc.Resource("users", "/users", opstream.WithProtocol(opstream.JSON()))
	ctx := context.Background()

	// Load the collection.
	if v, err := await(users.Read(ctx)); err != nil {
		logger.Warn("read failed", slog.String("error", err.Error()))
	} else {
		logger.Info("read ok", slog.Any("users", v))
	}

	// Create a user.
	if v, err := await(users.Create(ctx, map[string]any{"name": "Ada"})); err != nil {
		logger.Warn("create failed", slog.String("error", err.Error()))
	} else {
		logger.Info("create ok", slog.Any("user", v))
	}

	// Reading a bogus path exercises the error normalizer.
	missing := svc.Resource("missing", "/nowhere", opstream.WithProtocol(opstream.JSON()))
	if _, err := await(missing.Read(ctx)); err != nil {
		logger.Info("expected failure", slog.String("error", err.Error()))
	}

	// Start a load and cancel it immediately: the subscriber observes the
	// cancellation, the bus observes a cancel event.
	if _, err := users.Read(ctx); err == nil {
		users.Target().Cancel()
	}

	st := agg.Status()
	fmt.Printf("status: processing=%v succeeded=%v failed=%v cancelled=%v labels=%v\n",
		st.Processing, st.Succeeded, st.Failed, st.Cancelled, st.Labels)
	return nil
}

// await blocks until the operation's stream terminates and returns its
// result or error.
func await(s *stream.Stream[any], err error) (any, error) {
	if err != nil {
		return nil, err
	}

	var (
		result any
		opErr  error
		done   = make(chan struct{})
	)
	s.Subscribe(&stream.Observer[any]{
		Next:     func(v any) { result = v },
		Error:    func(e error) { opErr = e; close(done) },
		Complete: func() { close(done) },
	})

	select {
	case <-done:
		return result, opErr
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("operation timed out")
	}
}

// serveAPI starts the demo JSON API plus /metrics on the given port (0 picks
// a free one) and returns its base URL.
func serveAPI(port int, reg *prometheus.Registry, logger *slog.Logger) (string, func(), error) {
	var (
		mu    sync.Mutex
		next  = 1
		users = map[int]map[string]any{}
	)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/users", func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		out := make([]map[string]any, 0, len(users))
		for _, u := range users {
			out = append(out, u)
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/users", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"*": "invalid JSON body"})
			return
		}
		if name, _ := body["name"].(string); name == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"name": "required"})
			return
		}
		mu.Lock()
		defer mu.Unlock()
		body["id"] = next
		users[next] = body
		next++
		writeJSON(w, http.StatusCreated, body)
	})

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", nil, fmt.Errorf("listen: %w", err)
	}

	srv := &http.Server{Handler: r}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("api server stopped", slog.String("error", err.Error()))
		}
	}()

	baseURL := "http://" + ln.Addr().String()
	logger.Info("demo api listening", slog.String("url", baseURL))

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
	return baseURL, stop, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

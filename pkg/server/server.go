package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/engine"
	"github.com/aaghdai/nominal/pkg/log"
	"github.com/aaghdai/nominal/pkg/metrics"
	"github.com/aaghdai/nominal/pkg/planner"
)

const (
	// DefaultAddress is the address the server listens on by default.
	DefaultAddress = "localhost:8080"
	// DefaultRequestTimeout bounds the handling of a single request.
	DefaultRequestTimeout = 60 * time.Second
	// MaxBodySize is the largest request body accepted.
	MaxBodySize = 16 << 20
	// DefaultBatchTTL is how long a batch may go unused before it is dropped.
	DefaultBatchTTL = time.Hour
	// DefaultMaxBatches is the number of batches kept before the least
	// recently used one is dropped.
	DefaultMaxBatches = 1024
)

// Server serves the HTTP API.
type Server struct {
	router     *chi.Mux
	processor  *engine.Processor
	planner    *planner.Planner
	metrics    *metrics.Metrics
	logs       *log.CircularBuffer
	tracer     trace.Tracer
	batches    map[uuid.UUID]*batch
	address    string
	timeout    time.Duration
	batchTTL   time.Duration
	maxBatches int
	clock      atomic.Uint64
	mu         sync.RWMutex
}

// batch is a [engine.Batch] served over HTTP. used is the unix nano time of
// its last access and seq orders accesses across batches.
type batch struct {
	*engine.Batch
	created time.Time
	names   *planner.Reservations
	used    atomic.Int64
	seq     atomic.Uint64
}

func (b *batch) touch(now time.Time, seq uint64) {
	b.used.Store(now.UnixNano())
	b.seq.Store(seq)
}

// Opt configures a [Server].
type Opt func(*Server)

// WithPlanner sets the planner used to compute filenames.
func WithPlanner(p *planner.Planner) Opt {
	return func(s *Server) {
		s.planner = p
	}
}

// WithMetrics enables the /metrics endpoint and records classifications.
func WithMetrics(m *metrics.Metrics) Opt {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogs enables the /v1/logs endpoint, serving the recent entries of buf.
func WithLogs(buf *log.CircularBuffer) Opt {
	return func(s *Server) {
		s.logs = buf
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Opt {
	return func(s *Server) {
		s.timeout = d
	}
}

// WithBatchTTL sets how long a batch may go unused before it is dropped.
// Zero disables expiry.
func WithBatchTTL(d time.Duration) Opt {
	return func(s *Server) {
		s.batchTTL = d
	}
}

// WithMaxBatches sets the number of batches kept at once. Creating a batch
// beyond the limit drops the least recently used one. Zero means no limit.
func WithMaxBatches(n int) Opt {
	return func(s *Server) {
		s.maxBatches = n
	}
}

// New creates a [Server] for processor listening on address.
func New(address string, processor *engine.Processor, opts ...Opt) (*Server, error) {
	s := &Server{
		address:    address,
		processor:  processor,
		batches:    map[uuid.UUID]*batch{},
		timeout:    DefaultRequestTimeout,
		batchTTL:   DefaultBatchTTL,
		maxBatches: DefaultMaxBatches,
		tracer:     otel.Tracer("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.address == "" {
		s.address = DefaultAddress
	}

	if s.planner == nil {
		p, err := planner.New("", planner.WithDerivations(planner.Builtins(time.Now)...))
		if err != nil {
			return nil, fmt.Errorf("create planner: %w", err)
		}

		s.planner = p
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/classify", s.handleClassify)

		r.Get("/rules", s.handleListRules)
		r.Get("/rules/{ruleId}", s.handleGetRule)
		r.Get("/variables", s.handleListVariables)
		r.Get("/logs", s.handleLogs)

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.handleCreateBatch)

			r.Route("/{batchId}", func(r chi.Router) {
				r.Get("/", s.handleGetBatch)
				r.Delete("/", s.handleDeleteBatch)
				r.Post("/documents", s.handleClassifyInBatch)
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the address the server listens on.
func (s *Server) Address() string {
	return s.address
}

// Serve listens on the server's address until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	slog.InfoContext(ctx, "starting HTTP server", slog.String("address", s.address))

	server := &http.Server{
		Addr:    s.address,
		Handler: s,

		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		//nolint:contextcheck // Shutdown must outlive ctx.
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			slog.ErrorContext(ctx, "shut down HTTP server", slog.Any("error", err))
		}
	}()

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// requestLogger logs each request with the logger from its context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		ctx := r.Context()
		log.WithContext(ctx).DebugContext(ctx, "handled request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// Package server exposes the procedure executor over HTTP.
//
//	GET  /healthz                 database reachability
//	POST /procedures/{name}       run a procedure, body {"params": ..., "shape": ...}
//
// Shapes are exec, dataset (default), table, rows, single and scalar.
// With ?export=1 a dataset or table result is also written to the export
// bucket and the response carries its key and a presigned download link.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/sproc/internal/filestore"
	"github.com/koustreak/sproc/internal/logger"
	"github.com/koustreak/sproc/internal/procedure"
)

const defaultMaxBodyBytes = 1 << 20

// Server routes HTTP requests to an Executor.
type Server struct {
	exec    *procedure.Executor
	log     *logger.Logger
	maxBody int64
	now     func() time.Time

	store      filestore.Store // nil disables export
	bucket     string
	presignTTL time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithExport enables ?export=1, writing results to bucket in store.
func WithExport(store filestore.Store, bucket string, presignTTL time.Duration) Option {
	return func(s *Server) {
		s.store = store
		s.bucket = bucket
		s.presignTTL = presignTTL
	}
}

// WithMaxBodyBytes limits request bodies. Zero keeps the default of 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithClock replaces time.Now for export keys.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New returns a Server over exec.
func New(exec *procedure.Executor, opts ...Option) *Server {
	s := &Server{
		exec:    exec,
		log:     logger.Nop(),
		maxBody: defaultMaxBodyBytes,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)
	r.Post("/procedures/{name}", s.handleCall)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Kind: "not_found", Message: "no such route"}})
	})
	return r
}

// requestLog stores a request-scoped logger in the context and writes one
// info event per request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(log.WithContext(r.Context()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.InfoWith("http request", logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start),
		})
	})
}

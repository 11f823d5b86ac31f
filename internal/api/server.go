// Package api serves per-stream tallies, frame submission and crossing
// history over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/linecount/internal/db"
	"github.com/banshee-data/linecount/internal/httputil"
	"github.com/banshee-data/linecount/internal/monitoring"
	"github.com/banshee-data/linecount/internal/pipeline"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxEventLimit caps ?limit= on the events endpoint.
const maxEventLimit = 1000

// EventStore is the read side of the crossing event log. *db.DB implements it.
type EventStore interface {
	CrossingEvents(ctx context.Context, streamID string, limit int) ([]pipeline.CrossingRecord, error)
}

var _ EventStore = (*db.DB)(nil)

type Server struct {
	manager *pipeline.Manager
	store   EventStore
	metrics http.Handler
}

// Option customises a Server.
type Option func(*Server)

// WithEventStore enables the events endpoint.
func WithEventStore(store EventStore) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func NewServer(m *pipeline.Manager, opts ...Option) *Server {
	s := &Server{manager: m}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register adds the API routes to an existing mux, e.g. one that already
// carries the /debug/ admin routes.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /api/streams", s.listStreams)
	mux.HandleFunc("GET /api/streams/{id}/counts", s.showCounts)
	mux.HandleFunc("POST /api/streams/{id}/frames", s.submitFrame)
	mux.HandleFunc("GET /api/streams/{id}/events", s.listEvents)
	mux.HandleFunc("GET /api/streams/{id}/chart", s.showChart)
	mux.HandleFunc("GET /api/streams/{id}/chart.png", s.showChartPNG)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string][]string{"streams": s.manager.StreamIDs()})
}

// pipelineFor resolves {id} or writes a 404.
func (s *Server) pipelineFor(w http.ResponseWriter, r *http.Request) (*pipeline.Pipeline, bool) {
	id := r.PathValue("id")
	p, ok := s.manager.Pipeline(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown stream %q", id))
	}
	return p, ok
}

func (s *Server) showCounts(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, p.Snapshot())
}

// FrameResponse is returned by POST /api/streams/{id}/frames.
type FrameResponse struct {
	StreamID  string                    `json:"stream_id"`
	Frame     uint64                    `json:"frame"`
	Crossings []pipeline.CrossingRecord `json:"crossings"`
}

func (s *Server) submitFrame(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}

	var f pipeline.Frame
	if err := httputil.DecodeJSON(w, r, &f); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if f.StreamID == "" {
		f.StreamID = p.StreamID()
	}

	// The path names the pipeline; a body for another stream is rejected
	// by frame validation rather than rerouted.
	records, err := p.ProcessFrame(r.Context(), f)
	switch {
	case errors.Is(err, pipeline.ErrInvalidFrame):
		httputil.UnprocessableEntity(w, err.Error())
		return
	case err != nil:
		// Counted but not persisted.
		httputil.InternalServerError(w, err.Error())
		return
	}
	if records == nil {
		records = []pipeline.CrossingRecord{}
	}
	httputil.WriteJSONOK(w, FrameResponse{StreamID: p.StreamID(), Frame: f.Index, Crossings: records})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "event log is not configured")
		return
	}

	limit := db.DefaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxEventLimit {
			httputil.BadRequest(w, fmt.Sprintf("Invalid 'limit' parameter: must be 1-%d", maxEventLimit))
			return
		}
		limit = parsed
	}

	events, err := s.store.CrossingEvents(r.Context(), p.StreamID(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []pipeline.CrossingRecord{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"stream_id": p.StreamID(), "events": events})
}

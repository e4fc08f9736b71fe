package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adsbx_history/internal/models"
	"adsbx_history/internal/pipeline"
)

// Defaults fill the fields a submitted query leaves empty
type Defaults struct {
	OutDir  string
	Formats []models.Format
}

// Server exposes a Daemon over HTTP
type Server struct {
	daemon   *Daemon
	defaults Defaults
	server   *http.Server
}

// NewServer builds the HTTP API. gatherer backs /metrics; nil serves the
// default registry.
func NewServer(addr string, d *Daemon, defaults Defaults, gatherer prometheus.Gatherer) *Server {
	s := &Server{daemon: d, defaults: defaults}

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/queries", recoveryMiddleware(s.handleQueries))
	mux.HandleFunc("/queries/current", recoveryMiddleware(s.handleCurrent))
	mux.HandleFunc("/queries/current/events", recoveryMiddleware(s.handleEvents))
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the API handler
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Serve listens until Shutdown is called
func (s *Server) Serve() error {
	slog.Info("HTTP API listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops any running query and closes the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.daemon.Stop(); err == nil {
		if err := s.daemon.Wait(ctx); err != nil {
			slog.Warn("Query did not stop in time", "error", err)
		}
	}
	return s.server.Shutdown(ctx)
}

func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Handler panic", "error", err, "stack", string(debug.Stack()))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// queryRequest is the POST /queries body. Formats may be a list or a
// comma separated string.
type queryRequest struct {
	Hex     string          `json:"hex"`
	Start   string          `json:"start"`
	End     string          `json:"end"`
	Formats json.RawMessage `json:"formats"`
	OutDir  string          `json:"out_dir"`
}

func (s *Server) parseQuery(req queryRequest) (models.Query, error) {
	q := models.Query{Hex: req.Hex, OutDir: req.OutDir}

	var err error
	if q.Start, err = parseDate("start", req.Start); err != nil {
		return q, err
	}
	if q.End, err = parseDate("end", req.End); err != nil {
		return q, err
	}

	if q.Formats, err = parseFormats(req.Formats); err != nil {
		return q, err
	}
	if len(q.Formats) == 0 {
		q.Formats = s.defaults.Formats
	}
	if q.OutDir == "" {
		q.OutDir = s.defaults.OutDir
	}
	return q, nil
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", models.ErrInvalidQuery, field)
	}
	return t, nil
}

func parseFormats(raw json.RawMessage) ([]models.Format, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return models.ParseFormats(strings.Join(list, ","))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: formats must be a list or a string", models.ErrInvalidQuery)
	}
	return models.ParseFormats(s)
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	q, err := s.parseQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch err := s.daemon.Submit(q); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.daemon.Status())
	case errors.Is(err, ErrBusy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, models.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.daemon.Status())
	case http.MethodDelete:
		if err := s.daemon.Stop(); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, s.daemon.Status())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// eventPayload is the JSON form of one SSE event
type eventPayload struct {
	Kind    pipeline.EventKind   `json:"kind"`
	Time    time.Time            `json:"time"`
	Message string               `json:"message,omitempty"`
	Meta    *models.AircraftMeta `json:"meta,omitempty"`
	Result  *ResultStatus        `json:"result,omitempty"`
	Status  *Status              `json:"status,omitempty"`
}

func newEventPayload(ev pipeline.Event) eventPayload {
	p := eventPayload{Kind: ev.Kind, Time: ev.Time, Message: ev.Message, Meta: ev.Meta}
	if ev.Result != nil {
		p.Result = newResultStatus(ev.Result)
	}
	return p
}

// handleEvents streams the running query's events. The first event is a
// status snapshot; when no query is running it is the only one.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, err := setupSSE(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	events, cancel, running := s.daemon.Subscribe()
	defer cancel()

	status := s.daemon.Status()
	sendEvent(w, flusher, eventPayload{Kind: "status", Time: time.Now(), Status: &status})
	if !running {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			sendEvent(w, flusher, newEventPayload(ev))
		}
	}
}

func setupSSE(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return flusher, nil
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		slog.Error("SSE marshal error", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

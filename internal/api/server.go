// Package api exposes the JSON HTTP surface over the alert pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pisafe/pisafe/internal/alerter"
	"github.com/pisafe/pisafe/internal/types"
	"github.com/pisafe/pisafe/internal/version"
	"github.com/pisafe/pisafe/internal/webui"
)

const (
	maxBodyBytes    = 64 << 10
	defaultTrailLen = 50
	maxTrailLen     = 500
	defaultLogLen   = 200
)

// Pipeline is the alert entry point used by the API
type Pipeline interface {
	SubmitText(ctx context.Context, raw, area string) types.PipelineResult
	AuditTrail(ctx context.Context, n int) []alerter.TrailEntry
	WindowLen() int
}

// SensorMonitor exposes the monitor state
type SensorMonitor interface {
	Snapshot() map[string]types.SensorReading
	Running() bool
}

// HealthProbe computes a system health snapshot
type HealthProbe interface {
	Snapshot() types.SystemHealthSnapshot
}

// Server provides the HTTP API
type Server struct {
	pipeline  Pipeline
	monitor   SensorMonitor
	health    HealthProbe
	websocket http.Handler
	logBuffer *webui.LogBuffer
	logger    zerolog.Logger
	listen    string
	startTime time.Time
}

// NewServer creates a new API server
func NewServer(pipeline Pipeline, monitor SensorMonitor, health HealthProbe, logger zerolog.Logger, listen string) *Server {
	return &Server{
		pipeline:  pipeline,
		monitor:   monitor,
		health:    health,
		logger:    logger.With().Str("component", "api").Logger(),
		listen:    listen,
		startTime: time.Now(),
	}
}

// SetLogBuffer sets the buffer served by /api/logs
func (s *Server) SetLogBuffer(lb *webui.LogBuffer) {
	s.logBuffer = lb
}

// SetWebsocket mounts the live push handler at /ws
func (s *Server) SetWebsocket(h http.Handler) {
	s.websocket = h
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.logging)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.websocket != nil {
		r.Handle("/ws", s.websocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/sensors", s.handleSensors)
		r.Get("/logs", s.handleLogs)
		r.Get("/alerts", s.handleAuditTrail)
		r.Post("/alerts", s.handleSubmit)
		r.Post("/alerts/test", s.handleTestAlert)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.listen).Msg("Starting API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// handleHealth returns service liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns system health plus controller state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"health":          s.health.Snapshot(),
		"monitor_running": s.monitor.Running(),
		"dedup_window":    s.pipeline.WindowLen(),
		"uptime":          time.Since(s.startTime).Round(time.Second).String(),
		"version":         version.Get(),
	})
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	readings := s.monitor.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensors": readings,
		"count":   len(readings),
	})
}

// handleLogs returns recent log entries, filtered by ?component= and ?level=
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var entries []webui.LogEntry
	if s.logBuffer != nil {
		q := r.URL.Query()
		entries = s.logBuffer.Recent(queryInt(r, "limit", defaultLogLen, defaultLogLen*5), q.Get("component"), q.Get("level"))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	trail := s.pipeline.AuditTrail(r.Context(), queryInt(r, "limit", defaultTrailLen, maxTrailLen))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": trail,
		"count":  len(trail),
	})
}

type submitRequest struct {
	Message json.RawMessage `json:"message"`
	Area    string          `json:"area,omitempty"`
}

// handleSubmit accepts an external alert: {"message": "...", "area": "..."}
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, alerter.ReasonEmptyOrWrongType, "invalid JSON body")
		return
	}
	var message string
	if err := json.Unmarshal(req.Message, &message); err != nil {
		writeError(w, http.StatusBadRequest, alerter.ReasonEmptyOrWrongType, "message must be a string")
		return
	}
	s.respond(w, s.pipeline.SubmitText(r.Context(), message, req.Area))
}

// handleTestAlert sends the fixed test alert through the full pipeline
func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.pipeline.SubmitText(r.Context(), alerter.TestAlertText, r.URL.Query().Get("area")))
}

type submitResponse struct {
	types.PipelineResult
	Error string `json:"error,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, res types.PipelineResult) {
	body := submitResponse{PipelineResult: res}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}
	writeJSON(w, statusFor(res), body)
}

// statusFor maps a pipeline outcome to an HTTP status
func statusFor(res types.PipelineResult) int {
	switch res.State {
	case types.StateLogged:
		return http.StatusOK
	case types.StateRejected:
		switch res.Reason {
		case alerter.ReasonDuplicate:
			return http.StatusConflict
		case alerter.ReasonRateLimited:
			return http.StatusTooManyRequests
		}
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, key string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, msg string) {
	writeJSON(w, status, map[string]string{
		"state":  string(types.StateRejected),
		"reason": reason,
		"error":  msg,
	})
}

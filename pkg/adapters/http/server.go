package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/aretw0/redliner"
	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/pipeline"
	"github.com/aretw0/redliner/pkg/review"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the review application as seen by the HTTP layer.
type Service interface {
	Submit(ctx context.Context, u review.Upload, run bool) (*domain.Session, error)
	Run(ctx context.Context, id string) (*domain.Session, error)
	Rewind(ctx context.Context, id string, stage domain.Stage) (*domain.Session, error)
	Status(ctx context.Context, id string) (*review.StatusView, error)
	Results(ctx context.Context, id string) (domain.StageResults, error)
	Audit(ctx context.Context, id string) (*domain.AuditBundle, error)
	AuditMarkdown(ctx context.Context, id string) (string, error)
	Document(ctx context.Context, id string) (io.ReadCloser, *domain.Session, error)
	History(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error)
	Delete(ctx context.Context, id string) error
}

var _ Service = (*review.Service)(nil)

const defaultListLimit = 20

// Server serves the review API.
type Server struct {
	Service Service
	Streams *StreamManager

	gatherer prometheus.Gatherer
	maxBody  int64
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithStreams shares a StreamManager that is also registered as a pipeline hook.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.Streams = sm }
}

// WithMetrics exposes the gatherer at /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithMaxBody bounds the size of upload requests.
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewHandler creates a new HTTP handler for the review service.
func NewHandler(svc Service, opts ...Option) http.Handler {
	s := &Server{
		Service: svc,
		maxBody: review.DefaultMaxUploadSize + 1<<20,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec())
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.CreateSession)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Delete("/", s.DeleteSession)
			r.Post("/run", s.RunSession)
			r.Post("/rewind", s.RewindSession)
			r.Get("/status", s.GetStatus)
			r.Get("/results", s.GetResults)
			r.Get("/audit", s.GetAudit)
			r.Get("/document", s.GetDocument)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) log(r *http.Request) *slog.Logger {
	return s.logger.With("request_id", middleware.GetReqID(r.Context()))
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "redliner-http",
		"version":     strings.TrimSpace(redliner.Version),
		"api_version": apiVersion,
	})
}

// CreateSession handles the POST /sessions request (multipart upload).
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	run := true
	if err := runtime.BindQueryParameter("form", true, false, "run", r.URL.Query(), &run); err != nil {
		s.badRequest(w, r, "Invalid format for parameter run", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, &domain.ValidationError{Field: "file", Reason: "exceeds the maximum upload size"})
			return
		}
		s.badRequest(w, r, "Expected a multipart form", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, &domain.ValidationError{Field: "file", Reason: "is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.badRequest(w, r, "Failed to read upload", err)
		return
	}

	sess, err := s.Service.Submit(r.Context(), review.Upload{
		UserID:      r.FormValue("user_id"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, run)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	code := http.StatusCreated
	if run {
		code = http.StatusAccepted
	}
	writeJSON(w, code, statusOf(sess))
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	var userID string
	if err := runtime.BindQueryParameter("form", true, true, "user_id", r.URL.Query(), &userID); err != nil {
		s.writeError(w, r, &domain.ValidationError{Field: "user_id", Reason: "is required"})
		return
	}
	limit := defaultListLimit
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil || limit < 1 {
		s.writeError(w, r, &domain.ValidationError{Field: "limit", Reason: "must be a positive integer"})
		return
	}

	list, err := s.Service.History(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "session_id", chi.URLParam(r, "session_id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || id == "" {
		s.badRequest(w, r, "Invalid format for parameter session_id", err)
		return "", false
	}
	return id, true
}

// DeleteSession handles the DELETE /sessions/{session_id} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.Service.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunSession handles the POST /sessions/{session_id}/run request.
func (s *Server) RunSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.Service.Run(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusOf(sess))
}

// RewindSession handles the POST /sessions/{session_id}/rewind request.
func (s *Server) RewindSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var raw string
	if err := runtime.BindQueryParameter("form", true, true, "stage", r.URL.Query(), &raw); err != nil {
		s.writeError(w, r, &domain.ValidationError{Field: "stage", Reason: "is required"})
		return
	}
	stage, err := domain.ParseStage(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.Service.Rewind(r.Context(), id, stage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(sess))
}

// GetStatus handles the GET /sessions/{session_id}/status request.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	v, err := s.Service.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetResults handles the GET /sessions/{session_id}/results request.
func (s *Server) GetResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	res, err := s.Service.Results(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetAudit handles the GET /sessions/{session_id}/audit request.
func (s *Server) GetAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var format string
	if err := runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &format); err != nil {
		s.badRequest(w, r, "Invalid format for parameter format", err)
		return
	}

	switch format {
	case "", "json":
		b, err := s.Service.Audit(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	case "markdown", "md":
		md, err := s.Service.AuditMarkdown(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, md)
	default:
		s.writeError(w, r, &domain.ValidationError{Field: "format", Reason: "must be json or markdown"})
	}
}

// GetDocument handles the GET /sessions/{session_id}/document request.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	rc, sess, err := s.Service.Document(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	ct := sess.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": sess.Filename}))
	if _, err := io.Copy(w, rc); err != nil {
		s.log(r).Warn("Document download interrupted", "session_id", id, "err", err)
	}
}

// SubscribeEvents handles the GET /sessions/{session_id}/events request (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	if _, err := s.Service.Status(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	watch := map[string]bool{}
	var raw string
	if err := runtime.BindQueryParameter("form", true, false, "watch", r.URL.Query(), &raw); err == nil && raw != "" {
		for _, k := range strings.Split(raw, ",") {
			watch[strings.TrimSpace(k)] = true
		}
	}

	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.log(r).Info("SSE: Subscribing to Session Updates", "session_id", id)

	for {
		select {
		case <-r.Context().Done():
			s.log(r).Info("SSE Client Disconnected", "session_id", id)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if len(watch) == 0 || watch[ev.Kind] {
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, encodeEvent(ev))
				flusher.Flush()
			}
			if ev.Kind == EventRunFinished {
				s.log(r).Info("SSE: Run finished, closing stream", "session_id", id, "status", ev.Status)
				return
			}
		}
	}
}

// -- Helpers --

type statusResponse struct {
	SessionID   string        `json:"session_id"`
	Status      domain.Status `json:"status"`
	StageCursor int           `json:"stage_cursor"`
}

func statusOf(s *domain.Session) statusResponse {
	return statusResponse{SessionID: s.ID, Status: s.Status, StageCursor: s.StageCursor}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.log(r).Warn(msg, "err", err)
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrDocumentNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrNotTerminal), errors.Is(err, domain.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, pipeline.ErrDispatcherClosed):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.log(r).Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.log(r).Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

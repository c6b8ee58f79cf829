// Package server exposes the analysis pipeline over HTTP, with a WebSocket
// stream of job transitions.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/pipeline"
)

// Analyses is the pipeline surface the server drives.
type Analyses interface {
	Submit(ctx context.Context, projects, references []string) (string, error)
	Status(ctx context.Context, id string) (pipeline.Status, error)
	Result(ctx context.Context, id string) (pipeline.Outcome, error)
	List(ctx context.Context) ([]*pipeline.Job, error)
	Subscribe(ctx context.Context, id string) (<-chan pipeline.Event, func(), error)
	Evict(ctx context.Context, id string) error
}

var _ Analyses = (*pipeline.Pipeline)(nil)

// maxBodyBytes caps submit request bodies.
const maxBodyBytes = 1 << 20

// Server is the HTTP + WebSocket API surface for apilens.
type Server struct {
	cfg      Config
	analyses Analyses
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewServer(cfg Config, analyses Analyses, logger logging.Logger) (*Server, error) {
	if analyses == nil {
		return nil, errors.New("server: analyses is required")
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}

	s := &Server{
		cfg:      cfg,
		analyses: analyses,
		router:   chi.NewRouter(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/analyses", s.optionsHandler("GET, POST"))
	r.Options("/analyses/{id}", s.optionsHandler("DELETE"))
	r.Options("/analyses/{id}/status", s.optionsHandler("GET"))
	r.Options("/analyses/{id}/result", s.optionsHandler("GET"))
	r.Options("/ws/analyses/{id}", s.optionsHandler("GET"))

	r.Post("/analyses", s.handleSubmit)
	r.Get("/analyses", s.handleList)
	r.Get("/analyses/{id}/status", s.handleStatus)
	r.Get("/analyses/{id}/result", s.handleResult)
	r.Delete("/analyses/{id}", s.handleEvict)

	// WebSocket for job transitions
	r.Get("/ws/analyses/{id}", s.handleEventsWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if r.Body != nil && r.Method == http.MethodPost {
		if bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes)); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// --- HTTP handlers ---

// handleSubmit: POST /analyses. 202 with the analysis id; 400 on a bad
// request; 503 once the pipeline is closed.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Warn("decoding submit body", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// The job must outlive the request.
	id, err := s.analyses.Submit(context.WithoutCancel(r.Context()), body.Projects, body.References)
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, pipeline.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Warn("submitting analysis", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	st, err := s.analyses.Status(r.Context(), id)
	if err != nil {
		st = pipeline.StatusSubmitted
	}
	s.logger.Info("submitted analysis", logging.Field{Key: "analysis_id", Value: id})
	writeJSON(w, http.StatusAccepted, SubmitResponse{AnalysisID: id, Status: st})
}

// handleList: GET /analyses.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.analyses.List(r.Context())
	if err != nil {
		s.logger.Warn("listing analyses", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]JobSummary, len(jobs))
	for i, j := range jobs {
		out[i] = summarize(j)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStatus: GET /analyses/{id}/status. 404 with NOT_FOUND for unknown ids.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.analyses.Status(r.Context(), id)
	if err != nil {
		s.logger.Warn("getting status", logging.Field{Key: "analysis_id", Value: id}, logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	code := http.StatusOK
	if st == pipeline.StatusNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, StatusResponse{AnalysisID: id, Status: st})
}

// handleResult: GET /analyses/{id}/result. 200 READY, 202 pending, 422 failed,
// 404 unknown.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.analyses.Result(r.Context(), id)
	if err != nil {
		s.logger.Warn("getting result", logging.Field{Key: "analysis_id", Value: id}, logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch out.Kind {
	case pipeline.OutcomeReady:
		writeJSON(w, http.StatusOK, out.Result)
	case pipeline.OutcomeFailed:
		writeJSON(w, http.StatusUnprocessableEntity, FailedResponse{AnalysisID: id, Status: out.Status, Error: *out.Error})
	case pipeline.OutcomeNotFound:
		writeJSON(w, http.StatusNotFound, StatusResponse{AnalysisID: id, Status: pipeline.StatusNotFound})
	default:
		writeJSON(w, http.StatusAccepted, StatusResponse{AnalysisID: id, Status: out.Status})
	}
}

// handleEvict: DELETE /analyses/{id}.
func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.analyses.Evict(r.Context(), id)
	if errors.Is(err, pipeline.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, StatusResponse{AnalysisID: id, Status: pipeline.StatusNotFound})
		return
	}
	if err != nil {
		s.logger.Warn("evicting analysis", logging.Field{Key: "analysis_id", Value: id}, logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("evicted analysis", logging.Field{Key: "analysis_id", Value: id})
	w.WriteHeader(http.StatusNoContent)
}

// WebSockets

// handleEventsWS: GET /ws/analyses/{id}. Streams the job's events as JSON
// messages, starting with its current status, and closes once the job is
// terminal or evicted.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, cancel, err := s.analyses.Subscribe(r.Context(), id)
	if errors.Is(err, pipeline.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, StatusResponse{AnalysisID: id, Status: pipeline.StatusNotFound})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", logging.Field{Key: "analysis_id", Value: id}, logging.Field{Key: "error", Value: err.Error()})
				return
			}
		}
	}
}

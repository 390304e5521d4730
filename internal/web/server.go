// Package web serves the Ocepa HTTP API: lecture CRUD, the live capture
// WebSocket, health probes and Prometheus metrics.
//
// Routes:
//
//	GET    /v1/lectures            list lectures, newest first
//	POST   /v1/lectures            create {"title": ..., "user_id": ...}
//	GET    /v1/lectures/{id}       fetch one lecture
//	PATCH  /v1/lectures/{id}       update {"title": ..., "summary": ...}
//	DELETE /v1/lectures/{id}       delete
//	GET    /v1/lectures/{id}/live  live capture WebSocket
//	GET    /v1/sessions            live sessions
//	GET    /healthz, /readyz       probes
//	GET    /metrics                Prometheus scrape endpoint
//
// Every route is wrapped by [observe.Middleware].
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/ocepa/internal/app"
	"github.com/MrWong99/ocepa/internal/health"
	"github.com/MrWong99/ocepa/internal/lecture"
	"github.com/MrWong99/ocepa/internal/observe"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Server holds the HTTP handlers. Construct with [New].
type Server struct {
	store    lecture.Store
	sessions *app.SessionManager
	metrics  *observe.Metrics
	health   *health.Handler

	metricsHandler http.Handler
	originPatterns []string
	stopTimeout    time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records HTTP metrics into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithHealth replaces the default health handler, which pings the store.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithStopTimeout bounds how long a live socket waits for the lecture to be
// stopped and saved after capture ends. Default: 15s.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) { s.stopTimeout = d }
}

// New creates a Server over store and sessions.
func New(store lecture.Store, sessions *app.SessionManager, opts ...Option) *Server {
	s := &Server{
		store:       store,
		sessions:    sessions,
		stopTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		var checkers []health.Checker
		if p, ok := store.(health.Pinger); ok {
			checkers = append(checkers, health.Ping("store", p))
		}
		s.health = health.New(checkers...)
	}
	return s
}

// Health returns the health handler, e.g. to mark the process as draining.
func (s *Server) Health() *health.Handler { return s.health }

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/lectures", s.listLectures)
	mux.HandleFunc("POST /v1/lectures", s.createLecture)
	mux.HandleFunc("GET /v1/lectures/{id}", s.getLecture)
	mux.HandleFunc("PATCH /v1/lectures/{id}", s.updateLecture)
	mux.HandleFunc("DELETE /v1/lectures/{id}", s.deleteLecture)
	mux.HandleFunc("GET /v1/lectures/{id}/live", s.live)
	mux.HandleFunc("GET /v1/sessions", s.listSessions)
	s.health.Register(mux)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics, observe.WithQuietPaths("/healthz", "/readyz", "/metrics"))(mux)
}

// ── Lectures ─────────────────────────────────────────────────────────────────

type createRequest struct {
	Title  string `json:"title"`
	UserID string `json:"user_id"`
}

type updateRequest struct {
	Title   *string `json:"title"`
	Summary *string `json:"summary"`
}

type sessionResponse struct {
	LectureID string    `json:"lecture_id"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) listLectures(w http.ResponseWriter, r *http.Request) {
	opts := lecture.ListOptions{UserID: r.URL.Query().Get("user_id")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}
	lectures, err := s.store.List(r.Context(), opts)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if lectures == nil {
		lectures = []lecture.Lecture{}
	}
	writeJSON(w, http.StatusOK, lectures)
}

func (s *Server) createLecture(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lec, err := s.store.Create(r.Context(), req.Title, req.UserID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	observe.LectureLogger(r.Context(), lec.ID).Info("lecture created", "title", lec.Title)
	w.Header().Set("Location", "/v1/lectures/"+lec.ID)
	writeJSON(w, http.StatusCreated, lec)
}

func (s *Server) getLecture(w http.ResponseWriter, r *http.Request) {
	lec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lec)
}

func (s *Server) updateLecture(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title != nil && *req.Title == "" {
		writeError(w, http.StatusBadRequest, lecture.ErrEmptyTitle.Error())
		return
	}
	u := lecture.Update{Title: req.Title, Summary: req.Summary}
	if u.Empty() {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	lec, err := s.store.Update(r.Context(), id, u)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lec)
}

func (s *Server) deleteLecture(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.sessions.IsActive(id) {
		writeError(w, http.StatusConflict, app.ErrSessionActive.Error())
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	}
	observe.LectureLogger(r.Context(), id).Info("lecture deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	active := s.sessions.Active()
	out := make([]sessionResponse, len(active))
	for i, a := range active {
		out[i] = sessionResponse{LectureID: a.LectureID, StartedAt: a.StartedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lecture.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lecture.ErrEmptyTitle):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		observe.Logger(r.Context()).Error("web: store error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/database"
	"postpilot/internal/domain"
	"postpilot/internal/export"
	"postpilot/internal/models"
	"postpilot/internal/service"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the scheduling API: draft creation, promotion,
// cancellation, re-scheduling, listings, the service registry and report
// export. Dispatch itself never goes through this surface.
type HTTPServer struct {
	cfg      config.APIConfig
	posts    *service.PostService
	registry domain.ServiceRegistry
	exporter *export.Exporter
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, posts *service.PostService, registry domain.ServiceRegistry, exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:      cfg,
		posts:    posts,
		registry: registry,
		exporter: exporter,
		logger:   logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/posts", srv.handlePosts)
	mux.HandleFunc("/api/v1/posts/", srv.handlePostByID)
	mux.HandleFunc("/api/v1/services", srv.handleServices)
	mux.HandleFunc("/api/v1/reports/dispatch", srv.handleExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler, for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createDraft(w, r)
	case http.MethodGet:
		s.listPosts(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createDraft(w http.ResponseWriter, r *http.Request) {
	var input service.DraftInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	post, err := s.posts.CreateDraft(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *HTTPServer) listPosts(w http.ResponseWriter, r *http.Request) {
	rawStatus := strings.TrimSpace(r.URL.Query().Get("status"))
	if rawStatus == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	status := models.NormalizeStatus(rawStatus)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", rawStatus))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	posts, err := s.posts.ListPostsByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	if posts == nil {
		posts = []*models.ScheduledPost{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// handlePostByID routes /api/v1/posts/{id} and /api/v1/posts/{id}/{action}.
func (s *HTTPServer) handlePostByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/posts/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.getPost(w, r, parts[0])
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	switch parts[1] {
	case "schedule":
		s.schedulePost(w, r, id)
	case "cancel":
		s.cancelPost(w, r, id)
	case "reschedule":
		s.reschedulePost(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// getPost accepts either the numeric ID or the public UUID.
func (s *HTTPServer) getPost(w http.ResponseWriter, r *http.Request, ref string) {
	var (
		post *models.ScheduledPost
		err  error
	)
	if id, parseErr := strconv.ParseInt(ref, 10, 64); parseErr == nil {
		post, err = s.posts.GetPost(r.Context(), id)
	} else {
		post, err = s.posts.GetPostByPublicID(r.Context(), ref)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *HTTPServer) schedulePost(w http.ResponseWriter, r *http.Request, id int64) {
	var input service.ScheduleInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	post, err := s.posts.SchedulePost(r.Context(), id, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *HTTPServer) cancelPost(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.posts.CancelPost(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCancelled)})
}

func (s *HTTPServer) reschedulePost(w http.ResponseWriter, r *http.Request, id int64) {
	var input struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	post, err := s.posts.ReschedulePost(r.Context(), id, input.ScheduledAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *HTTPServer) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	services, err := s.registry.ListServices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list services")
		return
	}
	if services == nil {
		services = []*models.DeliveryService{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}

	var statuses []models.Status
	for _, raw := range splitCSV(r.URL.Query().Get("statuses")) {
		status := models.NormalizeStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", raw))
			return
		}
		statuses = append(statuses, status)
	}

	path, err := s.exporter.ExportDispatchReport(r.Context(), statuses)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_path": path})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// writeServiceError maps storage and validation errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrNotPromotable),
		errors.Is(err, database.ErrTerminalStatus):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrPastSchedule),
		errors.Is(err, database.ErrMissingTimezone),
		errors.Is(err, database.ErrInvalidTimezone),
		errors.Is(err, database.ErrInvalidRepeat),
		errors.Is(err, database.ErrNoPlatforms),
		errors.Is(err, database.ErrMissingTitle),
		errors.Is(err, database.ErrMissingOwner),
		errors.Is(err, database.ErrMissingServiceType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

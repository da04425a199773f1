// Package rest exposes the download queue over HTTP.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/dispatch"
	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/soundhoard/soundhoard/internal/logctx"
	"github.com/soundhoard/soundhoard/internal/quality"
	"github.com/soundhoard/soundhoard/internal/storage"
)

// maxBatchItems caps one bulk enqueue request.
const maxBatchItems = 500

type EnqueueRequest struct {
	Title         string          `json:"title"`
	Artist        string          `json:"artist"`
	Album         string          `json:"album,omitempty"`
	DurationSecs  int             `json:"duration_secs,omitempty"`
	UniversalCode string          `json:"universal_code,omitempty"`
	SourceName    string          `json:"source_name,omitempty"`
	SourceID      string          `json:"source_id,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	QualityLevel  string          `json:"quality_level,omitempty"`
	Profile       *ProfileRequest `json:"profile,omitempty"`
}

// ProfileRequest is an inline quality profile: an ordered list of acceptable
// formats with per-format bitrate floors. It overrides the coarse level.
type ProfileRequest struct {
	Name        string              `json:"name,omitempty"`
	Formats     []FormatRuleRequest `json:"formats"`
	MaxFileSize int64               `json:"max_file_size,omitempty"`
}

type FormatRuleRequest struct {
	Format     string `json:"format"`
	MinBitRate int    `json:"min_bit_rate,omitempty"`
}

type PriorityRequest struct {
	Priority int `json:"priority"`
}

type DownloadResponse struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Artist         string     `json:"artist"`
	Album          string     `json:"album,omitempty"`
	LogicalTrackID string     `json:"logical_track_id"`
	QualityLevel   string     `json:"quality_level,omitempty"`
	QualityProfile string     `json:"quality_profile,omitempty"`
	State          string     `json:"state"`
	Paused         bool       `json:"paused"`
	Priority       int        `json:"priority"`
	AttemptCount   int        `json:"attempt_count"`
	MaxAttempts    int        `json:"max_attempts"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ImportedPath   string     `json:"imported_path,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type BatchResponse struct {
	Enqueued []DownloadResponse `json:"enqueued"`
	Failed   []BatchFailure     `json:"failed,omitempty"`
}

type BatchFailure struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Error  string `json:"error"`
}

type QueueHandler struct {
	username string
	password string
	service  *dispatch.Service
}

// NewQueueHandler creates the queue API handler. Empty credentials disable
// basic auth.
func NewQueueHandler(username, password string, service *dispatch.Service) *QueueHandler {
	return &QueueHandler{
		username: username,
		password: password,
		service:  service,
	}
}

func (h *QueueHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Route("/downloads", func(r chi.Router) {
		r.Post("/", h.HandleEnqueue)
		r.Post("/batch", h.HandleEnqueueBatch)
		r.Get("/", h.HandleList)
		r.Delete("/", h.HandlePurge)

		r.Route("/{downloadID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Delete("/", h.HandleCancel)
			r.Post("/pause", h.HandlePause)
			r.Post("/resume", h.HandleResume)
			r.Patch("/priority", h.HandleSetPriority)
		})
	})

	return r
}

func (h *QueueHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	enqueueReq, err := toEnqueueRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	dl, err := h.service.Enqueue(r.Context(), enqueueReq)
	if err != nil {
		logger.Error("failed to enqueue download", "err", err)
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, toDownloadResponse(dl))
}

func (h *QueueHandler) HandleEnqueueBatch(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var reqs []EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if len(reqs) == 0 {
		http.Error(w, "empty batch", http.StatusBadRequest)

		return
	}

	if len(reqs) > maxBatchItems {
		http.Error(w, "batch too large", http.StatusBadRequest)

		return
	}

	items := make([]dispatch.EnqueueRequest, 0, len(reqs))

	for _, req := range reqs {
		item, err := toEnqueueRequest(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		items = append(items, item)
	}

	result, err := h.service.EnqueueBatch(r.Context(), items)
	if err != nil {
		logger.Error("failed to enqueue batch", "err", err)
		writeError(w, err)

		return
	}

	resp := BatchResponse{Enqueued: make([]DownloadResponse, 0, len(result.Succeeded))}

	for _, dl := range result.Succeeded {
		resp.Enqueued = append(resp.Enqueued, toDownloadResponse(dl))
	}

	for _, failure := range result.Failed {
		resp.Failed = append(resp.Failed, BatchFailure{
			Title:  failure.Item.Track.Title,
			Artist: failure.Item.Track.Artist,
			Error:  failure.Err.Error(),
		})
	}

	status := http.StatusCreated
	if len(resp.Failed) > 0 {
		status = http.StatusMultiStatus
	}

	writeJSON(w, status, resp)
}

func (h *QueueHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := download.Filter{}

	if states := r.URL.Query()["state"]; len(states) > 0 {
		for _, s := range states {
			filter.States = append(filter.States, download.State(s))
		}
	}

	if terminal := r.URL.Query().Get("terminal"); terminal != "" {
		v, err := strconv.ParseBool(terminal)
		if err != nil {
			http.Error(w, "invalid terminal filter", http.StatusBadRequest)

			return
		}

		filter.Terminal = &v
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil || v < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		filter.Limit = v
	}

	downloads, err := h.service.ListQueue(r.Context(), filter)
	if err != nil {
		writeError(w, err)

		return
	}

	resp := make([]DownloadResponse, 0, len(downloads))
	for i := range downloads {
		resp = append(resp, toDownloadResponse(&downloads[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *QueueHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	dl, err := h.service.Get(r.Context(), chi.URLParam(r, "downloadID"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toDownloadResponse(dl))
}

func (h *QueueHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "downloadID")); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *QueueHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pause(r.Context(), chi.URLParam(r, "downloadID")); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Resume(r.Context(), chi.URLParam(r, "downloadID")); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) HandleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req PriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if err := h.service.SetPriority(r.Context(), chi.URLParam(r, "downloadID"), req.Priority); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandlePurge deletes terminal records. The terminal=true query parameter is
// required so a stray DELETE cannot empty the queue history by accident.
func (h *QueueHandler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if v, err := strconv.ParseBool(r.URL.Query().Get("terminal")); err != nil || !v {
		http.Error(w, "purge requires terminal=true", http.StatusBadRequest)

		return
	}

	purged, err := h.service.PurgeTerminal(r.Context())
	if err != nil {
		writeError(w, err)

		return
	}

	logger.Info("purged terminal downloads", "count", purged)

	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}

func (h *QueueHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func toEnqueueRequest(req EnqueueRequest) (dispatch.EnqueueRequest, error) {
	if req.Title == "" || req.Artist == "" {
		return dispatch.EnqueueRequest{}, errors.New("title and artist are required")
	}

	out := dispatch.EnqueueRequest{
		Track: catalog.TrackRef{
			Title:         req.Title,
			Artist:        req.Artist,
			Album:         req.Album,
			DurationSecs:  req.DurationSecs,
			UniversalCode: req.UniversalCode,
			SourceName:    req.SourceName,
			SourceID:      req.SourceID,
		},
		Priority: req.Priority,
	}

	var constraint quality.Constraint

	if req.QualityLevel != "" {
		switch level := quality.Level(req.QualityLevel); level {
		case quality.Best, quality.Good, quality.Any:
			constraint.Level = level
		default:
			return dispatch.EnqueueRequest{}, errors.New("unknown quality level")
		}
	}

	if req.Profile != nil {
		profile, err := toProfile(req.Profile)
		if err != nil {
			return dispatch.EnqueueRequest{}, err
		}

		constraint.Profile = profile
	}

	if constraint.Level != "" || constraint.Profile != nil {
		out.Constraint = &constraint
	}

	return out, nil
}

func toProfile(req *ProfileRequest) (*quality.Profile, error) {
	if len(req.Formats) == 0 {
		return nil, errors.New("profile requires at least one format")
	}

	profile := &quality.Profile{
		Name:        req.Name,
		Formats:     make([]quality.FormatRule, 0, len(req.Formats)),
		MaxFileSize: req.MaxFileSize,
	}

	for _, rule := range req.Formats {
		if rule.Format == "" {
			return nil, errors.New("profile format must not be empty")
		}

		profile.Formats = append(profile.Formats, quality.FormatRule{
			Format:     rule.Format,
			MinBitRate: rule.MinBitRate,
		})
	}

	return profile, nil
}

func toDownloadResponse(dl *download.Download) DownloadResponse {
	resp := DownloadResponse{
		ID:             dl.ID,
		Title:          dl.Track.Title,
		Artist:         dl.Track.Artist,
		Album:          dl.Track.Album,
		LogicalTrackID: dl.LogicalTrackID,
		QualityLevel:   string(dl.Constraint.Level),
		State:          string(dl.State),
		Paused:         dl.Paused,
		Priority:       dl.Priority,
		AttemptCount:   dl.AttemptCount,
		MaxAttempts:    dl.MaxAttempts,
		NextAttemptAt:  dl.NextAttemptAt,
		ImportedPath:   dl.ImportedPath,
		CreatedAt:      dl.CreatedAt,
		UpdatedAt:      dl.UpdatedAt,
	}

	if dl.Constraint.Profile != nil {
		resp.QualityProfile = dl.Constraint.Profile.Name
	}

	if dl.LastError != nil {
		resp.ErrorKind = string(dl.LastError.Kind)
		resp.ErrorMessage = dl.LastError.Message
	}

	return resp
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "download not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrTerminal):
		http.Error(w, "download already finished", http.StatusConflict)
	case errors.Is(err, storage.ErrInvalidState):
		http.Error(w, "operation not allowed in current state", http.StatusConflict)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"image-cache-service/internal/cachepath"
	"image-cache-service/internal/config"
	"image-cache-service/internal/library"
	"image-cache-service/internal/models"
	"image-cache-service/internal/queue"
	"image-cache-service/internal/ratelimit"
	"image-cache-service/internal/recovery"
	"image-cache-service/internal/store"
	"image-cache-service/internal/telemetry"
)

// Server wires the operator-facing HTTP surface: job submission, job
// inspection, and the recovery controls.
type Server struct {
	cfg         config.Config
	store       *store.Store
	library     *library.Library
	queue       *queue.Queue
	coordinator *recovery.Coordinator
	limiter     *ratelimit.TokenBucket
	logger      *slog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, lib *library.Library, q *queue.Queue, coord *recovery.Coordinator, limiter *ratelimit.TokenBucket, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		store:       st,
		library:     lib,
		queue:       q,
		coordinator: coord,
		limiter:     limiter,
		logger:      logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/resumable", s.handleResumable)
	r.Post("/jobs/{id}/disable", s.handleDisable)
	r.Post("/jobs/cleanup", s.handleCleanup)
	r.Post("/recovery/run", s.handleRecover)
	return r
}

type submitRequest struct {
	CollectionID    string `json:"collection_id"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Quality         int    `json:"quality"`
	Format          string `json:"format"`
	ForceRegenerate bool   `json:"force_regenerate"`
}

type submitResponse struct {
	Job       models.CacheJob `json:"job"`
	Published int             `json:"published"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CollectionID == "" {
		http.Error(w, "collection_id is required", http.StatusBadRequest)
		return
	}
	if req.Width == 0 {
		req.Width = s.cfg.CacheDefaultWidth
	}
	if req.Height == 0 {
		req.Height = s.cfg.CacheDefaultHeight
	}
	if req.Quality <= 0 || req.Quality > 100 {
		req.Quality = s.cfg.CacheQuality
	}
	if req.Format == "" {
		req.Format = s.cfg.CacheFormat
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	col, err := s.library.GetByID(r.Context(), req.CollectionID)
	if errors.Is(err, models.ErrCollectionNotFound) {
		http.Error(w, "collection not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("load collection failed", "collection_id", req.CollectionID, "error", err)
		http.Error(w, "collection lookup failed", http.StatusInternalServerError)
		return
	}

	job := models.CacheJob{
		ID:              uuid.New().String(),
		CollectionID:    col.ID,
		Status:          models.StatusRunning,
		TotalImages:     len(col.Images),
		TargetImageIDs:  col.ImageIDs(),
		CanResume:       true,
		CacheWidth:      req.Width,
		CacheHeight:     req.Height,
		Quality:         req.Quality,
		Format:          req.Format,
		CacheFolderPath: s.cfg.CacheRootDir,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", "collection_id", col.ID, "error", err)
		http.Error(w, "create job failed", http.StatusInternalServerError)
		return
	}

	published := 0
	for _, img := range col.Images {
		msg := models.WorkMessage{
			JobID:        job.ID,
			ImageID:      img.ID,
			CollectionID: col.ID,
			SourcePath:   img.FilePath,
			DestinationPath: cachepath.Resolve(job.CacheFolderPath, col.ID, img.ID,
				job.CacheWidth, job.CacheHeight, job.Format),
			Width:           job.CacheWidth,
			Height:          job.CacheHeight,
			Quality:         job.Quality,
			Format:          job.Format,
			ForceRegenerate: req.ForceRegenerate,
			Origin:          models.OriginSubmission,
		}
		if err := s.queue.Publish(r.Context(), msg); err != nil {
			// Submission is interrupted; the job stays incomplete and the
			// startup recovery pass publishes whatever is missing.
			s.logger.Error("publish failed mid-submission",
				"job_id", job.ID, "image_id", img.ID, "published", published, "error", err)
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		telemetry.MessagesPublished.Inc()
		published++
	}

	telemetry.JobsSubmitted.Inc()
	writeJSON(w, http.StatusAccepted, submitResponse{Job: job, Published: published})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetByJobID(r.Context(), id)
	if errors.Is(err, models.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "job lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleResumable(w http.ResponseWriter, r *http.Request) {
	ids, err := s.coordinator.GetResumableJobIDs(r.Context())
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_ids": ids})
}

type disableRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req disableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "disabled by operator"
	}
	err := s.coordinator.DisableResumption(r.Context(), id, req.Reason)
	if errors.Is(err, models.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "disable failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.CleanupAfterDays
	if v := r.URL.Query().Get("older_than_days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "older_than_days must be a non-negative integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}
	deleted, err := s.coordinator.CleanupOldCompletedJobs(r.Context(), days)
	if err != nil {
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	result, err := s.coordinator.RecoverIncompleteJobs(r.Context())
	if err != nil {
		http.Error(w, "recovery scan failed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

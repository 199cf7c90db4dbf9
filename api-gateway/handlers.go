package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"media-downloader/shared"
)

// workerStats is satisfied by *shared.WorkerPool; nil when no workers run in-process.
type workerStats interface {
	Size() int
	Active() int
}

type gateway struct {
	cfg      *shared.Config
	service  *shared.JobService
	limiter  *shared.RateLimiter
	workers  workerStats
	upgrader websocket.Upgrader
}

func newGateway(cfg *shared.Config, service *shared.JobService, limiter *shared.RateLimiter, workers workerStats) *gateway {
	return &gateway{
		cfg:     cfg,
		service: service,
		limiter: limiter,
		workers: workers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
			},
		},
	}
}

func (g *gateway) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(g.corsMiddleware)

	limited := r.NewRoute().Subrouter()
	limited.Use(g.limiter.Middleware)
	limited.HandleFunc("/extract", g.handleExtract).Methods(http.MethodPost, http.MethodOptions)
	limited.HandleFunc("/info", g.handleInfo).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/formats/{kind}", g.handleFormats).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/status/{id}", g.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/watch/{id}", g.handleWatch).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/download/{id}", g.handleDownload).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Admin endpoints (with a simple middleware for auth)
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(g.adminAuthMiddleware)
	admin.HandleFunc("/jobs", g.handleAdminListJobs).Methods(http.MethodGet, http.MethodOptions)
	admin.HandleFunc("/jobs/{id}", g.handleAdminGetJob).Methods(http.MethodGet, http.MethodOptions)

	return r
}

// corsMiddleware enables CORS for browser requests and answers preflights.
func (g *gateway) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(origin, g.cfg.AllowedOrigins) {
			if origin == "" || contains(g.cfg.AllowedOrigins, "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminAuthMiddleware provides a basic bearer token authentication for admin routes
func (g *gateway) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+g.cfg.AdminToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleExtract: Starts a job, pushes to queue, and returns immediately
func (g *gateway) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req shared.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	jobID, err := g.service.Submit(r.Context(), req)
	if err != nil && jobID != "" {
		// The job exists but could not be queued; its Failed status stays readable.
		log.Error().Err(err).Str("job_id", jobID).Msg("Job recorded but not queued")
		writeJSON(w, errorStatus(err), map[string]string{
			"error":  err.Error(),
			"job_id": jobID,
			"state":  string(shared.JobStateFailed),
		})
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("url", req.URL).Msg("Rejected job submission")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":       jobID,
		"state":        string(shared.JobStatePending),
		"message":      "Download queued. Check status at /status/" + jobID,
		"instructions": "A worker will process this job and update its status. Watch /watch/{job_id} or poll /status/{job_id}.",
	})
}

// handleInfo: Returns media metadata, served from the cache when possible
func (g *gateway) handleInfo(w http.ResponseWriter, r *http.Request) {
	meta, cached, err := g.service.Info(r.Context(), r.URL.Query().Get("url"))
	if err != nil && !errors.Is(err, shared.ErrInvalidInput) {
		log.Error().Err(err).Msg("Metadata lookup failed")
		http.Error(w, "Could not retrieve video information. Please check the URL.", http.StatusBadGateway)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metadata": meta,
		"cached":   cached,
	})
}

func (g *gateway) handleFormats(w http.ResponseWriter, r *http.Request) {
	formats, err := g.service.Formats(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formats)
}

// handleStatus: Checks job status from the registry
func (g *gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := g.service.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.withDownloadLink(status))
}

// handleDownload: Serves the file produced by a completed job
func (g *gateway) handleDownload(w http.ResponseWriter, r *http.Request) {
	status, err := g.service.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if status.State != shared.JobStateCompleted || status.ResultPath == "" {
		http.Error(w, "Job has no downloadable file", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(status.ResultPath); err != nil {
		log.Warn().Err(err).Str("job_id", status.ID).Msg("Result file is missing")
		http.Error(w, "File no longer available", http.StatusGone)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(filepath.Base(status.ResultPath), `"`, "")+`"`)
	http.ServeFile(w, r, status.ResultPath)
}

// handleHealth: Basic health check for the API Gateway
func (g *gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"message": "API Gateway is healthy",
	}
	if depths, err := g.service.QueueDepths(r.Context()); err == nil {
		resp["queue"] = depths
	} else {
		resp["status"] = "degraded"
		resp["message"] = "Queue backend unavailable: " + err.Error()
	}
	if g.workers != nil {
		resp["active_workers"] = g.workers.Active()
		resp["max_workers"] = g.workers.Size()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAdminListJobs: Lists all jobs from the registry
func (g *gateway) handleAdminListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := g.service.Jobs(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get all jobs for admin")
		http.Error(w, "Failed to retrieve jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleAdminGetJob: Get details for a specific job
func (g *gateway) handleAdminGetJob(w http.ResponseWriter, r *http.Request) {
	g.handleStatus(w, r)
}

type statusResponse struct {
	shared.JobStatus
	DownloadEndpoint string `json:"download_endpoint,omitempty"`
}

func (g *gateway) withDownloadLink(status shared.JobStatus) statusResponse {
	resp := statusResponse{JobStatus: status}
	if status.State == shared.JobStateCompleted {
		resp.DownloadEndpoint = strings.TrimRight(g.cfg.PublicAPIBaseURL, "/") + "/download/" + status.ID
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

// errorStatus maps service errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrQueueFull), errors.Is(err, shared.ErrQueueClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" || contains(allowed, "*") {
		return true
	}
	return contains(allowed, origin)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	// Bare numbers are seconds
	d, err := time.ParseDuration(raw + "s")
	if err != nil {
		return 0, errors.New("invalid timeout")
	}
	return d, nil
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/semsync/semsync/internal/config"
	"github.com/semsync/semsync/internal/project"
	"github.com/semsync/semsync/internal/search"
	syncer "github.com/semsync/semsync/internal/sync"
	"github.com/semsync/semsync/internal/version"
)

// Handler serves the JSON API endpoints.
type Handler struct {
	cfg       *config.Config
	registry  *project.Registry
	scheduler *syncer.Scheduler
	searcher  *search.Searcher
	logger    *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, registry *project.Registry, scheduler *syncer.Scheduler, searcher *search.Searcher, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		registry:  registry,
		scheduler: scheduler,
		searcher:  searcher,
		logger:    logger,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// Health reports liveness and version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// Status reports the status of every registered project.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"version":  version.Version,
		"projects": h.scheduler.StatusAll(),
	})
}

// projectInfo is the JSON shape of a registered project.
type projectInfo struct {
	ID   string `json:"id"`
	Root string `json:"root"`
}

// ListProjects returns the registered projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects := h.registry.List()
	infos := make([]projectInfo, 0, len(projects))
	for _, p := range projects {
		infos = append(infos, projectInfo{ID: p.ID, Root: p.Root})
	}
	h.writeJSON(w, http.StatusOK, infos)
}

// registerRequest is the body of POST /api/projects.
type registerRequest struct {
	Path string `json:"path"`
}

// RegisterProject registers a new project root for continuous indexing.
func (h *Handler) RegisterProject(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		h.jsonError(w, "path is required", http.StatusBadRequest)
		return
	}
	if info, err := os.Stat(req.Path); err != nil || !info.IsDir() {
		h.jsonError(w, "directory does not exist: "+req.Path, http.StatusBadRequest)
		return
	}

	rules := project.Rules{
		Extensions:  h.cfg.Indexing.Extensions,
		ExcludeDirs: h.cfg.Indexing.ExcludeDirs,
		MaxFileSize: h.cfg.Indexing.MaxFileSize,
	}
	proj, err := project.New(req.Path, rules, h.cfg.Indexing.ChunkSize, h.cfg.Indexing.ChunkOverlap)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.scheduler.Register(proj); err != nil {
		if errors.Is(err, project.ErrAlreadyRegistered) {
			h.jsonError(w, "project already registered", http.StatusConflict)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.persistRoots()
	h.writeJSON(w, http.StatusCreated, projectInfo{ID: proj.ID, Root: proj.Root})
}

// UnregisterProject removes a project and its index data.
func (h *Handler) UnregisterProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := h.scheduler.Unregister(projectID); err != nil {
		if errors.Is(err, syncer.ErrNotRegistered) {
			h.jsonError(w, "project not registered", http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.persistRoots()
	w.WriteHeader(http.StatusNoContent)
}

// persistRoots records the current registry so registered projects survive a
// daemon restart.
func (h *Handler) persistRoots() {
	roots := make([]string, 0)
	for _, p := range h.registry.List() {
		roots = append(roots, p.Root)
	}
	if err := project.SaveRoots(h.cfg.DataDir, roots); err != nil {
		h.logger.Warn("persist project roots", zap.Error(err))
	}
}

// SyncProject runs an immediate synchronization pass and returns its result.
func (h *Handler) SyncProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	result, err := h.scheduler.SyncNow(ctx, projectID)
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrNotRegistered):
			h.jsonError(w, "project not registered", http.StatusNotFound)
		case errors.Is(err, syncer.ErrSyncRunning):
			h.jsonError(w, "sync already running", http.StatusConflict)
		default:
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ProjectStatus reports one project's coordinator status.
func (h *Handler) ProjectStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	status, err := h.scheduler.Status(projectID)
	if err != nil {
		h.jsonError(w, "project not registered", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// Search runs a semantic query against one project.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.jsonError(w, "query parameter 'q' is required", http.StatusBadRequest)
		return
	}
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		h.jsonError(w, "query parameter 'project' is required", http.StatusBadRequest)
		return
	}
	if _, err := h.registry.Get(projectID); err != nil {
		h.jsonError(w, "project not registered", http.StatusNotFound)
		return
	}

	opts := search.Options{FilePath: r.URL.Query().Get("file")}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			opts.Limit = limit
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	hits, err := h.searcher.Search(ctx, projectID, query, opts)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"project": projectID,
		"count":   len(hits),
		"results": hits,
	})
}

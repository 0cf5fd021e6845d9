// internal/api/handlers.go
package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"patchpack/internal/errors"
	"patchpack/internal/registry"

	"go.uber.org/zap"
)

// Releases is the storage the release handlers serve from
type Releases interface {
	Put(label string, data []byte) (*registry.Release, error)
	Get(id string) (*registry.Release, error)
	List() ([]*registry.Release, error)
	Container(id string) ([]byte, error)
	Delete(id string) error
}

type ReleaseHandler struct {
	releases Releases
	logger   *zap.Logger
}

func NewReleaseHandler(releases Releases, logger *zap.Logger) *ReleaseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReleaseHandler{releases: releases, logger: logger}
}

// Register mounts the release routes on mux
func (h *ReleaseHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", Health)
	mux.HandleFunc("GET /api/releases", h.List)
	mux.HandleFunc("POST /api/releases", h.Upload)
	mux.HandleFunc("GET /api/releases/{id}", h.Get)
	mux.HandleFunc("GET /api/releases/{id}/container", h.Download)
	mux.HandleFunc("DELETE /api/releases/{id}", h.Delete)
}

func (h *ReleaseHandler) Upload(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		errors.Write(w, errors.ValidationError("label is required", nil))
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.Write(w, errors.ValidationError("container too large",
				map[string]int64{"limit": tooLarge.Limit}))
			return
		}
		errors.Write(w, errors.ValidationError("reading request body", err.Error()))
		return
	}
	if len(data) == 0 {
		errors.Write(w, errors.ValidationError("empty request body", nil))
		return
	}

	rel, err := h.releases.Put(label, data)
	if err != nil {
		if stderrors.Is(err, registry.ErrInvalidContainer) {
			errors.Write(w, errors.Corrupt("container rejected", err.Error()))
			return
		}
		h.logger.Error("storing release", zap.String("label", label), zap.Error(err))
		errors.Write(w, errors.Internal("failed to store release"))
		return
	}

	writeJSON(w, http.StatusCreated, rel)
}

func (h *ReleaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rel, err := h.releases.Get(id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *ReleaseHandler) List(w http.ResponseWriter, r *http.Request) {
	releases, err := h.releases.List()
	if err != nil {
		h.logger.Error("listing releases", zap.Error(err))
		errors.Write(w, errors.Internal("failed to list releases"))
		return
	}
	if releases == nil {
		releases = []*registry.Release{}
	}
	writeJSON(w, http.StatusOK, releases)
}

func (h *ReleaseHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := h.releases.Container(id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.ppk"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *ReleaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.releases.Delete(id); err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReleaseHandler) writeLookupError(w http.ResponseWriter, id string, err error) {
	if stderrors.Is(err, registry.ErrNotFound) {
		errors.Write(w, errors.NotFound("release not found: "+id))
		return
	}
	h.logger.Error("release lookup", zap.String("id", id), zap.Error(err))
	errors.Write(w, errors.Internal("failed to read release"))
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

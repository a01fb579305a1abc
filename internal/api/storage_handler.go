package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quartershq/quarters/internal/storage"
)

// storageHandler serves and accepts image blobs.
type storageHandler struct {
	pool  *pgxpool.Pool
	files *storage.Store
}

func newStorageHandler(pool *pgxpool.Pool, files *storage.Store) *storageHandler {
	return &storageHandler{pool: pool, files: files}
}

// GetImage handles GET /getImage?storageId=<id>. Unknown ids return a plain
// 404 body so broken <img> tags fail cleanly.
func (h *storageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("storageId")

	f, err := h.files.Get(r.Context(), h.pool, id)
	if err != nil {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Content)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(f.Content)
}

// Upload handles POST /api/v1/images with a raw request body.
func (h *storageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(io.LimitReader(r.Body, storage.MaxBlobSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}
	if len(content) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "empty body")
		return
	}
	if len(content) > storage.MaxBlobSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "image exceeds the size limit")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}

	f, err := h.files.Put(r.Context(), h.pool, content, contentType)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":   f.ID,
		"path": storage.RefPath(f.ID),
	})
}

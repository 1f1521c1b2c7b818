// Package handlers implements the import REST endpoints.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-import/internal/api/middleware"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/pipeline"
	"github.com/dvloznov/finance-import/internal/processor"
)

// DefaultMaxUploadBytes bounds an uploaded import file when no limit is configured.
const DefaultMaxUploadBytes int64 = 10 << 20

// ImportService is the part of pipeline.Service the handlers call.
type ImportService interface {
	Register(ctx context.Context, ownerID string, source jobs.Source, fileName string, r io.Reader) (*jobs.ImportJob, error)
	Trigger(ctx context.Context, ownerID, jobID string) (string, error)
	Get(ctx context.Context, ownerID, jobID string) (*jobs.ImportJob, error)
	List(ctx context.Context, ownerID string, status jobs.JobStatus, limit, offset int) ([]*jobs.ImportJob, error)
}

// ImportsHandler handles import-related endpoints.
type ImportsHandler struct {
	service  ImportService
	maxBytes int64
	now      func() time.Time
	log      zerolog.Logger
}

// NewImportsHandler creates a new imports handler. maxBytes <= 0 selects
// DefaultMaxUploadBytes.
func NewImportsHandler(service ImportService, maxBytes int64, log zerolog.Logger) *ImportsHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &ImportsHandler{
		service:  service,
		maxBytes: maxBytes,
		now:      time.Now,
		log:      log,
	}
}

// Register mounts the import routes on mux.
func (h *ImportsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/imports", h.Upload)
	mux.HandleFunc("GET /api/imports", h.ListImports)
	mux.HandleFunc("GET /api/imports/template", h.DownloadTemplate)
	mux.HandleFunc("GET /api/imports/{id}", h.GetImport)
	mux.HandleFunc("POST /api/imports/{id}/process", h.ProcessImport)
}

// Upload handles POST /api/imports (multipart: file, source).
func (h *ImportsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetOwnerID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	source, err := jobs.ParseSource(r.FormValue("source"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid source")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	job, err := h.service.Register(ctx, owner, source, header.Filename, file)
	if err != nil {
		h.writeServiceError(w, err, "Failed to register import")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, job)
}

// ListImports handles GET /api/imports
func (h *ImportsHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	status := jobs.JobStatus(query.Get("status"))

	var limit, offset int
	if limitStr := query.Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			limit = v
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if v, err := strconv.Atoi(offsetStr); err == nil && v > 0 {
			offset = v
		}
	}

	imports, err := h.service.List(ctx, middleware.GetOwnerID(ctx), status, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list imports")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imports": imports,
		"count":   len(imports),
	})
}

// GetImport handles GET /api/imports/{id}
func (h *ImportsHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	job, err := h.service.Get(ctx, middleware.GetOwnerID(ctx), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "Failed to get import")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ProcessImport handles POST /api/imports/{id}/process
func (h *ImportsHandler) ProcessImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, err := h.service.Trigger(ctx, middleware.GetOwnerID(ctx), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "Failed to start import processing")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Import processing started",
		"task_id": taskID,
	})
}

// DownloadTemplate handles GET /api/imports/template
func (h *ImportsHandler) DownloadTemplate(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := processor.WriteTemplate(&buf, h.now()); err != nil {
		h.log.Error().Err(err).Msg("Failed to build import template")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build template")
		return
	}

	w.Header().Set("Content-Type", processor.TemplateContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+processor.TemplateFileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warn().Err(err).Msg("Failed to send import template")
	}
}

// writeServiceError maps pipeline errors to HTTP responses.
func (h *ImportsHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, jobs.ErrNotPending):
		middleware.WriteError(w, http.StatusBadRequest, "Import already processed or in progress")
	case errors.Is(err, jobs.ErrJobNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Import not found")
	case errors.Is(err, pipeline.ErrSourceMismatch), processor.IsValidation(err):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

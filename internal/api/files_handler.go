package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/stashd/filevault/pkg/filevault"
)

// FilesHandler exposes the file lifecycle API.
type FilesHandler struct {
	svc    filevault.Service
	logger *slog.Logger
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(svc filevault.Service, logger *slog.Logger) *FilesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilesHandler{svc: svc, logger: logger}
}

// Routes returns the router for file endpoints.
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.RequestUpload)
	r.Get("/", h.Search)
	r.Post("/{file_id}/complete", h.CompleteUpload)
	r.Get("/{file_id}", h.GetFile)
	r.Delete("/{file_id}", h.Delete)
	r.Get("/{file_id}/download", h.Download)
	r.Get("/{file_id}/jobs", h.ListJobs)

	// Proxy byte paths for providers that cannot presign.
	r.Put("/{file_id}/content", h.ProxyUpload)
	r.Get("/{file_id}/content", h.ProxyDownload)
	return r
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	"validation_error":      http.StatusBadRequest,
	"quota_exceeded":        http.StatusRequestEntityTooLarge,
	"not_found":             http.StatusNotFound,
	"permission_denied":     http.StatusForbidden,
	"unsupported_operation": http.StatusUnprocessableEntity,
	"invalid_status":        http.StatusConflict,
	"storage_error":         http.StatusBadGateway,
	"internal":              http.StatusInternalServerError,
}

func (h *FilesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := filevault.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: err.Error()})
}

// identity extracts the caller identity. Authentication happens upstream;
// the gateway injects these headers.
func identity(r *http.Request) (tenantID, userID uuid.UUID, err error) {
	tenantID, err = uuid.Parse(r.Header.Get("X-Tenant-ID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, &filevault.ValidationError{Field: "X-Tenant-ID", Reason: "missing or malformed"}
	}
	if raw := r.Header.Get("X-User-ID"); raw != "" {
		userID, err = uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, uuid.Nil, &filevault.ValidationError{Field: "X-User-ID", Reason: "malformed"}
		}
	}
	return tenantID, userID, nil
}

func fileIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "file_id"))
	if err != nil {
		return uuid.Nil, &filevault.ValidationError{Field: "file_id", Reason: "malformed"}
	}
	return id, nil
}

// RequestUploadBody is the request body for POST /files.
type RequestUploadBody struct {
	FileName   string     `json:"filename"`
	MimeType   string     `json:"mimeType"`
	Size       int64      `json:"size"`
	Tags       []string   `json:"tags,omitempty"`
	Visibility string     `json:"visibility,omitempty"`
	FolderPath string     `json:"folderPath,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// UploadTargetResponse is the response body for POST /files.
type UploadTargetResponse struct {
	FileID       string    `json:"fileId"`
	UploadURL    string    `json:"uploadUrl,omitempty"`
	UploadMethod string    `json:"uploadMethod"`
	MaxFileSize  int64     `json:"maxFileSize"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// RequestUpload registers a new file and returns an upload target.
func (h *FilesHandler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body RequestUploadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, &filevault.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}

	target, err := h.svc.RequestUpload(r.Context(), filevault.UploadRequest{
		TenantID:   tenantID,
		OwnerID:    userID,
		FileName:   body.FileName,
		MimeType:   body.MimeType,
		Size:       body.Size,
		Tags:       body.Tags,
		Visibility: filevault.Visibility(body.Visibility),
		FolderPath: body.FolderPath,
		ExpiresAt:  body.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadTargetResponse{
		FileID:       target.FileID.String(),
		UploadURL:    target.URL,
		UploadMethod: string(target.Method),
		MaxFileSize:  target.MaxSize,
		ExpiresAt:    target.ExpiresAt,
	})
}

// CompleteUploadBody is the request body for POST /files/{file_id}/complete.
type CompleteUploadBody struct {
	ActualSize int64  `json:"actualSize,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
}

// CompleteUpload finalizes an upload and kicks off processing.
func (h *FilesHandler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fileID, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body CompleteUploadBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, r, &filevault.ValidationError{Field: "body", Reason: "malformed JSON"})
			return
		}
	}

	record, err := h.svc.CompleteUpload(r.Context(), filevault.CompleteUploadRequest{
		FileID:     fileID,
		TenantID:   tenantID,
		ActualSize: body.ActualSize,
		Checksum:   body.Checksum,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, record)
}

// GetFile returns the file record.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fileID, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.svc.GetFile(r.Context(), tenantID, fileID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, record)
}

// DownloadResponse is the response body for GET /files/{file_id}/download.
type DownloadResponse struct {
	DownloadURL    string    `json:"downloadUrl,omitempty"`
	DownloadMethod string    `json:"downloadMethod"`
	FileName       string    `json:"filename"`
	MimeType       string    `json:"mimeType"`
	Size           int64     `json:"size"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Download resolves a download target for the file.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fileID, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	target, err := h.svc.Download(r.Context(), filevault.DownloadRequest{
		FileID:       fileID,
		TenantID:     tenantID,
		UserID:       userID,
		AsAttachment: r.URL.Query().Get("attachment") == "true",
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, DownloadResponse{
		DownloadURL:    target.URL,
		DownloadMethod: string(target.Method),
		FileName:       target.FileName,
		MimeType:       target.MimeType,
		Size:           target.Size,
		ExpiresAt:      target.ExpiresAt,
	})
}

// SearchResponse is the response body for GET /files.
type SearchResponse struct {
	Files        []*filevault.FileRecord      `json:"files"`
	Total        int64                        `json:"total"`
	HasMore      bool                         `json:"hasMore"`
	SearchTimeMS int64                        `json:"searchTimeMs"`
	Aggregations filevault.SearchAggregations `json:"aggregations"`
}

// Search lists files matching the query parameters.
func (h *FilesHandler) Search(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	query, err := parseSearchQuery(r, tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.Search(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	files := result.Files
	if files == nil {
		files = []*filevault.FileRecord{}
	}
	render.JSON(w, r, SearchResponse{
		Files:        files,
		Total:        result.Total,
		HasMore:      result.HasMore,
		SearchTimeMS: result.SearchTime.Milliseconds(),
		Aggregations: result.Aggregations,
	})
}

func parseSearchQuery(r *http.Request, tenantID uuid.UUID) (filevault.SearchQuery, error) {
	q := r.URL.Query()
	query := filevault.SearchQuery{
		TenantID:     tenantID,
		NameContains: q.Get("name"),
		MimeType:     q.Get("mimeType"),
		Tag:          q.Get("tag"),
		FolderPath:   q.Get("folder"),
		FullText:     q.Get("q"),
		SortBy:       filevault.SortKey(q.Get("sortBy")),
	}

	if raw := q.Get("category"); raw != "" {
		category := filevault.Category(raw)
		query.Category = &category
	}
	if raw := q.Get("status"); raw != "" {
		status := filevault.FileStatus(raw)
		query.Status = &status
	}
	if raw := q.Get("visibility"); raw != "" {
		visibility := filevault.Visibility(raw)
		query.Visibility = &visibility
	}
	if q.Get("includeDeleted") == "true" {
		query.IncludeDeleted = true
	}
	if raw := q.Get("sortDesc"); raw != "" {
		desc := raw == "true"
		query.SortDescending = &desc
	}

	if raw := q.Get("createdAfter"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, &filevault.ValidationError{Field: "createdAfter", Reason: "must be RFC 3339"}
		}
		query.CreatedAfter = &t
	}
	if raw := q.Get("createdBefore"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, &filevault.ValidationError{Field: "createdBefore", Reason: "must be RFC 3339"}
		}
		query.CreatedBefore = &t
	}

	if raw := q.Get("minSize"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return query, &filevault.ValidationError{Field: "minSize", Reason: "must be a non-negative integer"}
		}
		query.MinSize = &n
	}
	if raw := q.Get("maxSize"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return query, &filevault.ValidationError{Field: "maxSize", Reason: "must be a non-negative integer"}
		}
		query.MaxSize = &n
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return query, &filevault.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
		}
		query.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return query, &filevault.ValidationError{Field: "offset", Reason: "must be a non-negative integer"}
		}
		query.Offset = n
	}

	return query, nil
}

// Delete soft-deletes a file and schedules physical removal.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fileID, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	err = h.svc.Delete(r.Context(), filevault.DeleteRequest{
		FileID:   fileID,
		TenantID: tenantID,
		UserID:   userID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "deleted"})
}

// ListJobs returns the processing jobs for a file.
func (h *FilesHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fileID, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jobs, err := h.svc.ListJobs(r.Context(), tenantID, fileID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*filevault.ProcessingJob{}
	}
	render.JSON(w, r, jobs)
}

// ProxyUpload accepts file bytes through the service for providers without
// presigned uploads.
func (h *FilesHandler) ProxyUpload(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fileID, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.svc.ProxyUpload(r.Context(), tenantID, userID, fileID, r.Body); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "uploaded"})
}

// ProxyDownload streams file bytes through the service.
func (h *FilesHandler) ProxyDownload(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := identity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fileID, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.svc.GetFile(r.Context(), tenantID, fileID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc, err := h.svc.ProxyDownload(r.Context(), tenantID, userID, fileID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", record.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(record.Size, 10))
	if r.URL.Query().Get("attachment") == "true" {
		w.Header().Set("Content-Disposition", "attachment; filename=\""+record.OriginalName+"\"")
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("proxy download interrupted", "file_id", fileID, "error", err)
	}
}

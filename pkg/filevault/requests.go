package filevault

import (
	"time"

	"github.com/google/uuid"
)

// Request/Response DTOs

// UploadRequest contains parameters for RequestUpload.
type UploadRequest struct {
	TenantID   uuid.UUID
	OwnerID    uuid.UUID
	FileName   string
	MimeType   string
	Size       int64
	Tags       []string
	FolderPath string
	Visibility Visibility
	ExpiresAt  *time.Time
}

// UploadMethod tells the client how to deliver the bytes.
type UploadMethod string

const (
	// UploadMethodPresigned means PUT the bytes to UploadTarget.URL directly.
	UploadMethodPresigned UploadMethod = "presigned-put"
	// UploadMethodDirect means stream the bytes through the service's
	// proxy-upload endpoint.
	UploadMethodDirect UploadMethod = "direct"
)

// UploadTarget is the result of RequestUpload.
type UploadTarget struct {
	FileID    uuid.UUID    `json:"file_id"`
	URL       string       `json:"upload_url,omitempty"`
	Method    UploadMethod `json:"upload_method"`
	MaxSize   int64        `json:"max_file_size"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// CompleteUploadRequest contains parameters for CompleteUpload.
type CompleteUploadRequest struct {
	FileID     uuid.UUID
	TenantID   uuid.UUID
	ActualSize int64  // 0 means "not reported"
	Checksum   string // optional
}

// DownloadRequest contains parameters for Download.
type DownloadRequest struct {
	FileID       uuid.UUID
	TenantID     uuid.UUID
	UserID       uuid.UUID
	AsAttachment bool
}

// DownloadMethod mirrors UploadMethod for the read path.
type DownloadMethod string

const (
	DownloadMethodPresigned DownloadMethod = "presigned-get"
	DownloadMethodDirect    DownloadMethod = "direct"
)

// DownloadTarget is the result of Download.
type DownloadTarget struct {
	URL       string         `json:"download_url,omitempty"`
	Method    DownloadMethod `json:"download_method"`
	FileName  string         `json:"file_name"`
	MimeType  string         `json:"mime_type"`
	Size      int64          `json:"size"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// SortKey enumerates the supported search sort fields.
type SortKey string

const (
	SortByName     SortKey = "name"
	SortBySize     SortKey = "size"
	SortByCreated  SortKey = "created"
	SortByModified SortKey = "modified"
)

// SearchQuery filters and pages file records. Deleted records are excluded
// unless IncludeDeleted is set.
type SearchQuery struct {
	TenantID uuid.UUID

	NameContains string
	MimeType     string
	Category     *Category
	Tag          string
	FolderPath   string
	Status       *FileStatus
	Visibility   *Visibility
	FullText     string

	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	MinSize       *int64
	MaxSize       *int64

	IncludeDeleted bool

	SortBy         SortKey
	SortDescending *bool // nil means the sort key's default order
	Limit          int
	Offset         int
}

// SearchAggregations are the facet counts computed over the full match set.
type SearchAggregations struct {
	ByCategory map[Category]int64   `json:"by_category"`
	ByStatus   map[FileStatus]int64 `json:"by_status"`
}

// SearchResult is a page of matching file records.
type SearchResult struct {
	Files        []*FileRecord      `json:"files"`
	Total        int64              `json:"total"`
	HasMore      bool               `json:"has_more"`
	SearchTime   time.Duration      `json:"search_time"`
	Aggregations SearchAggregations `json:"aggregations"`
}

// DeleteRequest contains parameters for Delete.
type DeleteRequest struct {
	FileID   uuid.UUID
	TenantID uuid.UUID
	UserID   uuid.UUID
}

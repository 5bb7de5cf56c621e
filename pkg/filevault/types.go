package filevault

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus is the domain type for file lifecycle states.
type FileStatus string

// File status constants (typed).
const (
	FileStatusUploading  FileStatus = "uploading"
	FileStatusProcessing FileStatus = "processing"
	FileStatusReady      FileStatus = "ready"
	FileStatusFailed     FileStatus = "failed"
	FileStatusDeleted    FileStatus = "deleted"
)

// Visibility controls who may download a file.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityTenant  Visibility = "tenant"
)

// Category is the coarse classification of a file, derived from its MIME type.
type Category string

const (
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryArchive  Category = "archive"
	CategoryData     Category = "data"
	CategoryOther    Category = "other"
)

// JobType identifies the transformation a ProcessingJob performs.
type JobType string

const (
	JobTypeThumbnail   JobType = "thumbnail"
	JobTypeConversion  JobType = "conversion"
	JobTypeExtraction  JobType = "extraction"
	JobTypeCompression JobType = "compression"
	JobTypeWatermark   JobType = "watermark"
	JobTypeDeleteFile  JobType = "delete-file"
)

// JobStatus is the domain type for processing-job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// FileRecord is the persistent metadata entity for one uploaded file.
//
// StorageKey is assigned exactly once at creation and never mutated; provider
// selection is per-record so a deployment can migrate providers without
// breaking existing files.
type FileRecord struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	OwnerID  uuid.UUID `json:"owner_id"`

	FileName     string   `json:"file_name"`
	OriginalName string   `json:"original_name"`
	MimeType     string   `json:"mime_type"`
	Size         int64    `json:"size"`
	Checksum     string   `json:"checksum,omitempty"`
	Category     Category `json:"category"`

	StorageProvider string `json:"storage_provider"`
	StorageKey      string `json:"storage_key"`
	PublicURL       string `json:"public_url,omitempty"`

	Status           FileStatus `json:"status"`
	Visibility       Visibility `json:"visibility"`
	AccessLevel      string     `json:"access_level,omitempty"`
	EncryptionKeyRef string     `json:"encryption_key_ref,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	FolderPath string   `json:"folder_path,omitempty"`

	ExtractedText string                 `json:"extracted_text,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Thumbnails    []ThumbnailDescriptor  `json:"thumbnails,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// ThumbnailDescriptor describes one generated thumbnail rendition.
type ThumbnailDescriptor struct {
	StorageKey string `json:"storage_key"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime_type"`
}

// ThumbnailSize is one rung of the thumbnail ladder.
type ThumbnailSize struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	Quality int `json:"quality"`
}

// DefaultThumbnailSizes is the ladder applied to image uploads.
var DefaultThumbnailSizes = []ThumbnailSize{
	{Width: 150, Height: 150, Quality: 85},
	{Width: 300, Height: 300, Quality: 85},
	{Width: 800, Height: 600, Quality: 85},
}

// JobConfig carries transformation-specific parameters for a ProcessingJob.
type JobConfig struct {
	ThumbnailSizes    []ThumbnailSize `json:"thumbnail_sizes,omitempty"`
	TargetFormat      string          `json:"target_format,omitempty"`
	Quality           int             `json:"quality,omitempty"`
	TargetSize        int64           `json:"target_size,omitempty"`
	CompressionLevel  int             `json:"compression_level,omitempty"`
	WatermarkText     string          `json:"watermark_text,omitempty"`
	WatermarkPosition string          `json:"watermark_position,omitempty"`
	WatermarkOpacity  float64         `json:"watermark_opacity,omitempty"`
	ExtractText       bool            `json:"extract_text,omitempty"`
}

// JobOutput holds the result a completed job produced.
type JobOutput struct {
	Thumbnails    []ThumbnailDescriptor  `json:"thumbnails,omitempty"`
	ExtractedText string                 `json:"extracted_text,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ResultKey     string                 `json:"result_key,omitempty"`
	ResultSize    int64                  `json:"result_size,omitempty"`
}

// ProcessingJob is one unit of asynchronous work against a FileRecord.
//
// Status moves monotonically forward: pending -> processing -> completed|failed.
type ProcessingJob struct {
	ID       uuid.UUID `json:"id"`
	FileID   uuid.UUID `json:"file_id"`
	TenantID uuid.UUID `json:"tenant_id"`

	Type   JobType   `json:"type"`
	Status JobStatus `json:"status"`
	Config JobConfig `json:"config"`

	Output JobOutput `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`

	RunAt       time.Time  `json:"run_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TenantUsage is the raw usage aggregate computed from non-deleted FileRecords.
type TenantUsage struct {
	UsedBytes  int64              `json:"used_bytes"`
	FileCount  int64              `json:"file_count"`
	ByCategory map[Category]int64 `json:"by_category"`
}

// QuotaLimits are the configured per-tenant ceilings.
type QuotaLimits struct {
	MaxBytes    int64 `json:"max_bytes"`
	MaxFiles    int64 `json:"max_files"`
	MaxFileSize int64 `json:"max_file_size"`
}

// StorageQuota is the usage snapshot returned by GetQuota.
type StorageQuota struct {
	TenantID uuid.UUID `json:"tenant_id"`

	UsedBytes  int64              `json:"used_bytes"`
	FileCount  int64              `json:"file_count"`
	ByCategory map[Category]int64 `json:"by_category"`

	MaxBytes    int64 `json:"max_bytes"`
	MaxFiles    int64 `json:"max_files"`
	MaxFileSize int64 `json:"max_file_size"`

	NearQuotaLimit  bool `json:"near_quota_limit"`
	NearFileLimit   bool `json:"near_file_limit"`
	HasExpiredFiles bool `json:"has_expired_files"`
}

// GlobalMaxFileSize is the hard per-file ceiling regardless of tenant limits.
const GlobalMaxFileSize int64 = 100 << 20 // 100 MiB

// DefaultDeleteGracePeriod is the delay before a soft-deleted file is
// physically removed.
const DefaultDeleteGracePeriod = 24 * time.Hour

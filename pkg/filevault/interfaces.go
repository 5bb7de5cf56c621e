package filevault

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore is the uniform interface over storage providers. Providers that
// cannot presign return ErrPresignNotSupported from the URL methods and the
// service falls back to proxying bytes.
type BlobStore interface {
	// Upload stores the object bytes under key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// UploadWithMime stores the object bytes with an explicit content type.
	UploadWithMime(ctx context.Context, key string, reader io.Reader, mimeType string) error

	// Download streams the object bytes.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// GetObjectMeta retrieves size/content-type metadata for an object.
	GetObjectMeta(ctx context.Context, key string) (*ObjectMeta, error)

	// GetUploadURL returns a time-boxed presigned PUT target.
	GetUploadURL(ctx context.Context, key string, mimeType string) (string, error)

	// GetDownloadURL returns a time-boxed presigned GET target, optionally
	// forcing attachment disposition with the given filename.
	GetDownloadURL(ctx context.Context, key string, downloadFilename string) (string, error)
}

// ObjectMeta describes an object as seen by its storage provider.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	UpdatedAt   time.Time
}

// Repository is the single writer-of-record for file and job lifecycle state.
type Repository interface {
	// File record operations
	CreateFile(ctx context.Context, record *FileRecord) error
	GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*FileRecord, error)
	// GetFileIncludeDeleted also returns soft-deleted records; used by the
	// deferred delete-file job.
	GetFileIncludeDeleted(ctx context.Context, tenantID, fileID uuid.UUID) (*FileRecord, error)
	UpdateFile(ctx context.Context, record *FileRecord) error
	SoftDeleteFile(ctx context.Context, tenantID, fileID uuid.UUID) error
	HardDeleteFile(ctx context.Context, tenantID, fileID uuid.UUID) error
	TouchLastAccessed(ctx context.Context, fileID uuid.UUID, at time.Time) error
	SearchFiles(ctx context.Context, query SearchQuery) (*SearchResult, error)

	// Quota aggregation over non-deleted records
	GetTenantUsage(ctx context.Context, tenantID uuid.UUID) (*TenantUsage, error)
	HasExpiredFiles(ctx context.Context, tenantID uuid.UUID, now time.Time) (bool, error)

	// Processing job operations
	CreateJob(ctx context.Context, job *ProcessingJob) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*ProcessingJob, error)
	UpdateJob(ctx context.Context, job *ProcessingJob) error
	ListJobsByFile(ctx context.Context, fileID uuid.UUID) ([]*ProcessingJob, error)

	// PruneJobs discards settled job records beyond the retention windows,
	// keeping the most recent keepCompleted completed and keepFailed failed.
	PruneJobs(ctx context.Context, keepCompleted, keepFailed int) error
}

// JobMessage is the queue-transported identity of a processing job. The job
// record itself lives in the Repository.
type JobMessage struct {
	JobID    uuid.UUID `json:"job_id"`
	FileID   uuid.UUID `json:"file_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Type     JobType   `json:"type"`
	RunAt    time.Time `json:"run_at"`
}

// JobQueue is a durable, at-least-once delivery queue. Messages whose RunAt
// lies in the future are redelivered no earlier than that instant. A handler
// error triggers redelivery up to the queue's configured attempt limit.
type JobQueue interface {
	Enqueue(ctx context.Context, msg JobMessage) error
	Subscribe(ctx context.Context, handler func(context.Context, JobMessage) error) error
	Close() error
}

// JobRunner executes one job to completion or failure. Implemented by the
// Service; invoked by the worker pool.
type JobRunner interface {
	RunJob(ctx context.Context, msg JobMessage) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

package filevault

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service is the public contract of the file subsystem. Public operations are
// short request/response calls; transformation work runs on the job queue.
type Service interface {
	// Upload lifecycle
	RequestUpload(ctx context.Context, req UploadRequest) (*UploadTarget, error)
	CompleteUpload(ctx context.Context, req CompleteUploadRequest) (*FileRecord, error)

	// Read path
	GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*FileRecord, error)
	Download(ctx context.Context, req DownloadRequest) (*DownloadTarget, error)
	Search(ctx context.Context, query SearchQuery) (*SearchResult, error)

	// Deletion and quota
	Delete(ctx context.Context, req DeleteRequest) error
	GetQuota(ctx context.Context, tenantID uuid.UUID) (*StorageQuota, error)

	// Job inspection; failed background jobs surface here, not as user errors.
	ListJobs(ctx context.Context, tenantID, fileID uuid.UUID) ([]*ProcessingJob, error)

	// Proxy byte paths for providers without native presigning. They enforce
	// the same ownership and visibility rules as the presigned paths.
	ProxyUpload(ctx context.Context, tenantID, userID, fileID uuid.UUID, reader io.Reader) error
	ProxyDownload(ctx context.Context, tenantID, userID, fileID uuid.UUID) (io.ReadCloser, error)

	// RunJob is the worker-pool entry point.
	JobRunner
}

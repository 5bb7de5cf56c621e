package filevault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors. API layers map these to stable error codes via ErrorCode.
var (
	// ErrFileNotFound indicates no matching file record exists (or it is deleted).
	ErrFileNotFound = errors.New("file not found")

	// ErrJobNotFound indicates a processing job was not found.
	ErrJobNotFound = errors.New("processing job not found")

	// ErrStorageProviderNotFound indicates an unconfigured storage provider tag.
	ErrStorageProviderNotFound = errors.New("storage provider not found")

	// ErrPermissionDenied indicates a visibility/ownership violation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrQuotaExceeded indicates the tenant's byte or file-count cap would be exceeded.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrValidation indicates rejected input (size, MIME type, parameters).
	ErrValidation = errors.New("validation failed")

	// ErrUnsupportedOperation indicates a format/category combination that is
	// not implemented.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidFileStatus indicates a lifecycle transition that is not allowed.
	ErrInvalidFileStatus = errors.New("invalid file status")

	// ErrPresignNotSupported indicates the provider cannot presign and the
	// caller must proxy bytes through the service.
	ErrPresignNotSupported = errors.New("presigned transfer not supported by provider")
)

// ValidationError reports rejected input before any mutation occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// QuotaExceededError reports which cap an upload would exceed.
type QuotaExceededError struct {
	TenantID  uuid.UUID
	Requested int64
	Used      int64
	Limit     int64
	Resource  string // "bytes" or "files"
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for tenant %s: %s used %d + requested %d > limit %d",
		e.TenantID, e.Resource, e.Used, e.Requested, e.Limit)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// FileError wraps an error from an operation against a file record.
type FileError struct {
	FileID uuid.UUID
	Op     string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file operation %s failed for file %s: %v", e.Op, e.FileID, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// JobError wraps an error from an operation against a processing job.
type JobError struct {
	JobID uuid.UUID
	Op    string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job operation %s failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// StorageError wraps a storage-provider I/O failure.
type StorageError struct {
	Provider string
	Key      string
	Op       string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on provider %s: %v",
		e.Op, e.Key, e.Provider, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorCode returns the stable, user-visible error code for err, or "internal"
// when the error does not belong to the domain taxonomy.
func ErrorCode(err error) string {
	var storageErr *StorageError
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrJobNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrUnsupportedOperation):
		return "unsupported_operation"
	case errors.As(err, &storageErr):
		return "storage_error"
	case errors.Is(err, ErrInvalidFileStatus):
		return "invalid_status"
	default:
		return "internal"
	}
}

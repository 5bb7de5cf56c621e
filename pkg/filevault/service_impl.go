package filevault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stashd/filevault/pkg/filevault/processor"
)

// service implements the Service interface.
type service struct {
	repo            Repository
	stores          map[string]BlobStore
	queue           JobQueue
	defaultProvider string

	limits         QuotaLimits
	thumbnailSizes []ThumbnailSize
	deleteGrace    time.Duration
	presignTTL     time.Duration
	keepCompleted  int
	keepFailed     int
	allowedMimes   map[string]struct{}

	clock  Clock
	logger *slog.Logger
}

// Option represents a functional option for configuring the service.
type Option func(*service)

// WithRepository sets the metadata repository.
func WithRepository(repo Repository) Option {
	return func(s *service) { s.repo = repo }
}

// WithBlobStore registers a storage provider under the given tag.
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		if s.stores == nil {
			s.stores = make(map[string]BlobStore)
		}
		s.stores[name] = store
	}
}

// WithDefaultProvider selects the provider used for new uploads.
func WithDefaultProvider(name string) Option {
	return func(s *service) { s.defaultProvider = name }
}

// WithQueue sets the durable job queue.
func WithQueue(q JobQueue) Option {
	return func(s *service) { s.queue = q }
}

// WithQuotaLimits sets the per-tenant storage ceilings.
func WithQuotaLimits(limits QuotaLimits) Option {
	return func(s *service) { s.limits = limits }
}

// WithThumbnailSizes overrides the default thumbnail ladder.
func WithThumbnailSizes(sizes []ThumbnailSize) Option {
	return func(s *service) { s.thumbnailSizes = sizes }
}

// WithDeleteGracePeriod overrides the delay before physical deletion.
func WithDeleteGracePeriod(d time.Duration) Option {
	return func(s *service) { s.deleteGrace = d }
}

// WithPresignTTL overrides the expiry of presigned upload/download targets.
func WithPresignTTL(d time.Duration) Option {
	return func(s *service) { s.presignTTL = d }
}

// WithJobRetention overrides how many settled job records are kept.
func WithJobRetention(completed, failed int) Option {
	return func(s *service) {
		s.keepCompleted = completed
		s.keepFailed = failed
	}
}

// WithAllowedMimeTypes replaces the default upload allow-list. Types are
// normalized the same way incoming MIME types are; an empty list keeps the
// default.
func WithAllowedMimeTypes(types []string) Option {
	return func(s *service) {
		if len(types) == 0 {
			return
		}
		s.allowedMimes = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.allowedMimes[normalizeMime(t)] = struct{}{}
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(c Clock) Option {
	return func(s *service) { s.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// New creates a new service instance with the given options.
func New(options ...Option) (Service, error) {
	s := &service{
		stores:         make(map[string]BlobStore),
		thumbnailSizes: DefaultThumbnailSizes,
		deleteGrace:    DefaultDeleteGracePeriod,
		presignTTL:     time.Hour,
		keepCompleted:  10,
		keepFailed:     5,
		clock:          systemClock{},
		logger:         slog.Default(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if s.defaultProvider == "" && len(s.stores) == 1 {
		for name := range s.stores {
			s.defaultProvider = name
		}
	}
	if _, ok := s.stores[s.defaultProvider]; !ok {
		return nil, fmt.Errorf("default storage provider %q is not configured", s.defaultProvider)
	}

	return s, nil
}

func (s *service) storeFor(provider string) (BlobStore, error) {
	store, ok := s.stores[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStorageProviderNotFound, provider)
	}
	return store, nil
}

// maxFileSize is the effective per-file ceiling: the global cap, tightened by
// the tenant limit when one is configured.
func (s *service) maxFileSize() int64 {
	max := GlobalMaxFileSize
	if s.limits.MaxFileSize > 0 && s.limits.MaxFileSize < max {
		max = s.limits.MaxFileSize
	}
	return max
}

// mimeAllowed consults the configured allow-list, falling back to the package
// default when none was set.
func (s *service) mimeAllowed(mimeType string) bool {
	if s.allowedMimes == nil {
		return MimeAllowed(mimeType)
	}
	_, ok := s.allowedMimes[normalizeMime(mimeType)]
	return ok
}

// Upload lifecycle

func (s *service) RequestUpload(ctx context.Context, req UploadRequest) (*UploadTarget, error) {
	if req.FileName == "" {
		return nil, &ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if req.Size <= 0 {
		return nil, &ValidationError{Field: "size", Reason: "must be positive"}
	}
	if max := s.maxFileSize(); req.Size > max {
		return nil, &ValidationError{
			Field:  "size",
			Reason: fmt.Sprintf("%d exceeds maximum file size %d", req.Size, max),
		}
	}
	if !s.mimeAllowed(req.MimeType) {
		return nil, &ValidationError{
			Field:  "mime_type",
			Reason: fmt.Sprintf("%s is not an accepted type", req.MimeType),
		}
	}

	// Quota check happens-before record creation. The read and the create are
	// not wrapped in a transaction, so two concurrent uploads can overshoot
	// the soft cap by at most one declared size; accepted trade-off.
	usage, err := s.repo.GetTenantUsage(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("quota lookup: %w", err)
	}
	if s.limits.MaxBytes > 0 && usage.UsedBytes+req.Size > s.limits.MaxBytes {
		return nil, &QuotaExceededError{
			TenantID:  req.TenantID,
			Requested: req.Size,
			Used:      usage.UsedBytes,
			Limit:     s.limits.MaxBytes,
			Resource:  "bytes",
		}
	}
	if s.limits.MaxFiles > 0 && usage.FileCount+1 > s.limits.MaxFiles {
		return nil, &QuotaExceededError{
			TenantID:  req.TenantID,
			Requested: 1,
			Used:      usage.FileCount,
			Limit:     s.limits.MaxFiles,
			Resource:  "files",
		}
	}

	now := s.clock.Now()
	fileID := uuid.New()
	visibility := req.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}

	record := &FileRecord{
		ID:              fileID,
		TenantID:        req.TenantID,
		OwnerID:         req.OwnerID,
		FileName:        SanitizeFilename(req.FileName),
		OriginalName:    req.FileName,
		MimeType:        req.MimeType,
		Size:            req.Size,
		Category:        CategoryForMime(req.MimeType),
		StorageProvider: s.defaultProvider,
		StorageKey:      StorageKey(req.TenantID, fileID, req.FileName, now),
		Status:          FileStatusUploading,
		Visibility:      visibility,
		Tags:            req.Tags,
		FolderPath:      req.FolderPath,
		ExpiresAt:       req.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.CreateFile(ctx, record); err != nil {
		return nil, &FileError{FileID: fileID, Op: "request_upload", Err: err}
	}

	target := &UploadTarget{
		FileID:    fileID,
		Method:    UploadMethodDirect,
		MaxSize:   s.maxFileSize(),
		ExpiresAt: now.Add(s.presignTTL),
	}

	store, err := s.storeFor(record.StorageProvider)
	if err != nil {
		return nil, &FileError{FileID: fileID, Op: "request_upload", Err: err}
	}
	url, err := store.GetUploadURL(ctx, record.StorageKey, record.MimeType)
	switch {
	case err == nil:
		target.URL = url
		target.Method = UploadMethodPresigned
	case errors.Is(err, ErrPresignNotSupported):
		// Provider cannot presign; the client streams bytes through the
		// service's proxy-upload endpoint instead.
	default:
		return nil, &StorageError{Provider: record.StorageProvider, Key: record.StorageKey, Op: "presign_upload", Err: err}
	}

	return target, nil
}

func (s *service) CompleteUpload(ctx context.Context, req CompleteUploadRequest) (*FileRecord, error) {
	record, err := s.repo.GetFile(ctx, req.TenantID, req.FileID)
	if err != nil {
		return nil, &FileError{FileID: req.FileID, Op: "complete_upload", Err: err}
	}
	if record.Status != FileStatusUploading {
		// Only an in-flight upload can be completed.
		return nil, &FileError{FileID: req.FileID, Op: "complete_upload", Err: ErrFileNotFound}
	}

	now := s.clock.Now()

	// Reconcile the declared size against what actually arrived.
	if req.ActualSize > 0 && req.ActualSize != record.Size {
		if record.Metadata == nil {
			record.Metadata = make(map[string]interface{})
		}
		record.Metadata["declared_size"] = record.Size
		record.Size = req.ActualSize
	}
	if req.Checksum != "" {
		record.Checksum = req.Checksum
	}

	jobs := s.planJobs(record, now)
	if len(jobs) == 0 {
		record.Status = FileStatusReady
	} else {
		record.Status = FileStatusProcessing
	}
	record.UpdatedAt = now

	if err := s.repo.UpdateFile(ctx, record); err != nil {
		return nil, &FileError{FileID: record.ID, Op: "complete_upload", Err: err}
	}

	for _, job := range jobs {
		if err := s.repo.CreateJob(ctx, job); err != nil {
			return nil, &JobError{JobID: job.ID, Op: "create", Err: err}
		}
		msg := JobMessage{
			JobID:    job.ID,
			FileID:   job.FileID,
			TenantID: job.TenantID,
			Type:     job.Type,
			RunAt:    job.RunAt,
		}
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			// The pending job record remains durable and inspectable; an
			// operator can re-enqueue it.
			s.logger.Warn("failed to enqueue processing job",
				"job_id", job.ID, "file_id", job.FileID, "type", job.Type, "error", err)
		}
	}

	return record, nil
}

// planJobs decides which processing jobs an upload gets, by category.
func (s *service) planJobs(record *FileRecord, now time.Time) []*ProcessingJob {
	var jobs []*ProcessingJob

	newJob := func(t JobType, cfg JobConfig) *ProcessingJob {
		return &ProcessingJob{
			ID:        uuid.New(),
			FileID:    record.ID,
			TenantID:  record.TenantID,
			Type:      t,
			Status:    JobStatusPending,
			Config:    cfg,
			RunAt:     now,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	switch record.Category {
	case CategoryImage:
		jobs = append(jobs, newJob(JobTypeThumbnail, JobConfig{ThumbnailSizes: s.thumbnailSizes}))
	case CategoryDocument, CategoryData:
		jobs = append(jobs, newJob(JobTypeExtraction, JobConfig{ExtractText: true}))
	}

	return jobs
}

// Read path

func (s *service) GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*FileRecord, error) {
	return s.repo.GetFile(ctx, tenantID, fileID)
}

func (s *service) Download(ctx context.Context, req DownloadRequest) (*DownloadTarget, error) {
	record, err := s.repo.GetFile(ctx, req.TenantID, req.FileID)
	if err != nil {
		return nil, &FileError{FileID: req.FileID, Op: "download", Err: err}
	}
	if err := canDownload(record.Status); err != nil {
		return nil, &FileError{FileID: req.FileID, Op: "download", Err: err}
	}
	if record.Visibility == VisibilityPrivate && record.OwnerID != req.UserID {
		return nil, &FileError{FileID: req.FileID, Op: "download", Err: ErrPermissionDenied}
	}

	now := s.clock.Now()
	target := &DownloadTarget{
		Method:    DownloadMethodDirect,
		FileName:  record.OriginalName,
		MimeType:  record.MimeType,
		Size:      record.Size,
		ExpiresAt: now.Add(s.presignTTL),
	}

	store, err := s.storeFor(record.StorageProvider)
	if err != nil {
		return nil, &FileError{FileID: req.FileID, Op: "download", Err: err}
	}
	downloadName := ""
	if req.AsAttachment {
		downloadName = record.OriginalName
	}
	url, err := store.GetDownloadURL(ctx, record.StorageKey, downloadName)
	switch {
	case err == nil:
		target.URL = url
		target.Method = DownloadMethodPresigned
	case errors.Is(err, ErrPresignNotSupported):
		// Proxy fallback.
	default:
		return nil, &StorageError{Provider: record.StorageProvider, Key: record.StorageKey, Op: "presign_download", Err: err}
	}

	// Best-effort, non-blocking last-accessed update.
	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.TouchLastAccessed(tctx, record.ID, now); err != nil {
			s.logger.Debug("failed to update last-accessed", "file_id", record.ID, "error", err)
		}
	}()

	return target, nil
}

func (s *service) Search(ctx context.Context, query SearchQuery) (*SearchResult, error) {
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 1000 {
		query.Limit = 1000
	}
	if query.SortBy == "" {
		query.SortBy = SortByCreated
	}
	return s.repo.SearchFiles(ctx, query)
}

// Deletion and quota

func (s *service) Delete(ctx context.Context, req DeleteRequest) error {
	record, err := s.repo.GetFile(ctx, req.TenantID, req.FileID)
	if err != nil {
		return &FileError{FileID: req.FileID, Op: "delete", Err: err}
	}
	if record.OwnerID != req.UserID {
		return &FileError{FileID: req.FileID, Op: "delete", Err: ErrPermissionDenied}
	}

	if err := s.repo.SoftDeleteFile(ctx, req.TenantID, req.FileID); err != nil {
		return &FileError{FileID: req.FileID, Op: "delete", Err: err}
	}

	// Two-phase delete: the irreversible storage deletion runs after a grace
	// period, leaving a recovery window and keeping this call fast.
	now := s.clock.Now()
	job := &ProcessingJob{
		ID:        uuid.New(),
		FileID:    record.ID,
		TenantID:  record.TenantID,
		Type:      JobTypeDeleteFile,
		Status:    JobStatusPending,
		RunAt:     now.Add(s.deleteGrace),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return &JobError{JobID: job.ID, Op: "create", Err: err}
	}
	msg := JobMessage{
		JobID:    job.ID,
		FileID:   job.FileID,
		TenantID: job.TenantID,
		Type:     job.Type,
		RunAt:    job.RunAt,
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		s.logger.Warn("failed to enqueue delete-file job",
			"job_id", job.ID, "file_id", job.FileID, "error", err)
	}

	return nil
}

func (s *service) GetQuota(ctx context.Context, tenantID uuid.UUID) (*StorageQuota, error) {
	usage, err := s.repo.GetTenantUsage(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("quota lookup: %w", err)
	}

	quota := &StorageQuota{
		TenantID:    tenantID,
		UsedBytes:   usage.UsedBytes,
		FileCount:   usage.FileCount,
		ByCategory:  usage.ByCategory,
		MaxBytes:    s.limits.MaxBytes,
		MaxFiles:    s.limits.MaxFiles,
		MaxFileSize: s.maxFileSize(),
	}
	if s.limits.MaxBytes > 0 {
		quota.NearQuotaLimit = usage.UsedBytes*5 > s.limits.MaxBytes*4 // >80%
	}
	if s.limits.MaxFiles > 0 {
		quota.NearFileLimit = usage.FileCount*5 > s.limits.MaxFiles*4
	}

	expired, err := s.repo.HasExpiredFiles(ctx, tenantID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("expired-files lookup: %w", err)
	}
	quota.HasExpiredFiles = expired

	return quota, nil
}

func (s *service) ListJobs(ctx context.Context, tenantID, fileID uuid.UUID) ([]*ProcessingJob, error) {
	if _, err := s.repo.GetFileIncludeDeleted(ctx, tenantID, fileID); err != nil {
		return nil, &FileError{FileID: fileID, Op: "list_jobs", Err: err}
	}
	return s.repo.ListJobsByFile(ctx, fileID)
}

// Proxy byte paths

func (s *service) ProxyUpload(ctx context.Context, tenantID, userID, fileID uuid.UUID, reader io.Reader) error {
	record, err := s.repo.GetFile(ctx, tenantID, fileID)
	if err != nil {
		return &FileError{FileID: fileID, Op: "proxy_upload", Err: err}
	}
	// Only the user who registered the upload may deliver its bytes.
	if record.OwnerID != userID {
		return &FileError{FileID: fileID, Op: "proxy_upload", Err: ErrPermissionDenied}
	}
	if err := canCompleteUpload(record.Status); err != nil {
		return &FileError{FileID: fileID, Op: "proxy_upload", Err: err}
	}
	store, err := s.storeFor(record.StorageProvider)
	if err != nil {
		return &FileError{FileID: fileID, Op: "proxy_upload", Err: err}
	}
	if err := store.UploadWithMime(ctx, record.StorageKey, reader, record.MimeType); err != nil {
		return &StorageError{Provider: record.StorageProvider, Key: record.StorageKey, Op: "upload", Err: err}
	}
	return nil
}

func (s *service) ProxyDownload(ctx context.Context, tenantID, userID, fileID uuid.UUID) (io.ReadCloser, error) {
	record, err := s.repo.GetFile(ctx, tenantID, fileID)
	if err != nil {
		return nil, &FileError{FileID: fileID, Op: "proxy_download", Err: err}
	}
	if err := canDownload(record.Status); err != nil {
		return nil, &FileError{FileID: fileID, Op: "proxy_download", Err: err}
	}
	// Same visibility rule as the presigned path: private files are only
	// served to their owner.
	if record.Visibility == VisibilityPrivate && record.OwnerID != userID {
		return nil, &FileError{FileID: fileID, Op: "proxy_download", Err: ErrPermissionDenied}
	}
	store, err := s.storeFor(record.StorageProvider)
	if err != nil {
		return nil, &FileError{FileID: fileID, Op: "proxy_download", Err: err}
	}
	rc, err := store.Download(ctx, record.StorageKey)
	if err != nil {
		return nil, &StorageError{Provider: record.StorageProvider, Key: record.StorageKey, Op: "download", Err: err}
	}
	return rc, nil
}

// Job execution

// RunJob is invoked by the worker pool for each delivered message. Returning
// a non-nil error requests queue redelivery, so only infrastructure failures
// that happened before the job record could be updated propagate; every
// transformation failure is recorded on the job and acknowledged.
func (s *service) RunJob(ctx context.Context, msg JobMessage) error {
	job, err := s.repo.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			// Pruned or already handled; nothing to do.
			return nil
		}
		return &JobError{JobID: msg.JobID, Op: "load", Err: err}
	}
	if job.Status == JobStatusCompleted || job.Status == JobStatusFailed {
		// At-least-once redelivery of a settled job.
		return nil
	}

	if job.Type == JobTypeDeleteFile {
		return s.runDeleteJob(ctx, job)
	}

	record, err := s.repo.GetFile(ctx, job.TenantID, job.FileID)
	if err != nil {
		// A job queued against a since-deleted file fails lookup and is
		// discarded without retry.
		s.failJob(ctx, job, fmt.Sprintf("file unavailable: %v", err))
		return nil
	}

	s.transitionJob(ctx, job, JobStatusProcessing)

	store, err := s.storeFor(record.StorageProvider)
	if err != nil {
		s.failJob(ctx, job, err.Error())
		s.settleFile(ctx, record.TenantID, record.ID)
		return nil
	}
	rc, err := store.Download(ctx, record.StorageKey)
	if err != nil {
		s.failJob(ctx, job, fmt.Sprintf("fetch source bytes: %v", err))
		s.settleFile(ctx, record.TenantID, record.ID)
		return nil
	}
	buf, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		s.failJob(ctx, job, fmt.Sprintf("read source bytes: %v", err))
		s.settleFile(ctx, record.TenantID, record.ID)
		return nil
	}

	output, applyErr := s.executeJob(ctx, job, record, store, buf)
	if applyErr != nil {
		s.failJob(ctx, job, applyErr.Error())
		s.settleFile(ctx, record.TenantID, record.ID)
		return nil
	}

	// Re-check the record before persisting results: a Delete may have raced
	// this job, and results must not resurrect a deleted record.
	fresh, err := s.repo.GetFile(ctx, job.TenantID, job.FileID)
	if err != nil {
		s.failJob(ctx, job, "file deleted during processing")
		return nil
	}

	s.applyOutput(fresh, job.Type, output)
	fresh.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateFile(ctx, fresh); err != nil {
		s.failJob(ctx, job, fmt.Sprintf("persist results: %v", err))
		return nil
	}

	now := s.clock.Now()
	job.Status = JobStatusCompleted
	job.Output = *output
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		return &JobError{JobID: job.ID, Op: "complete", Err: err}
	}

	s.settleFile(ctx, record.TenantID, record.ID)

	if err := s.repo.PruneJobs(ctx, s.keepCompleted, s.keepFailed); err != nil {
		s.logger.Debug("job pruning failed", "error", err)
	}
	return nil
}

// executeJob dispatches to the content processor and uploads any derived
// artifacts. The processor itself is pure; re-execution on the same input
// yields identical bytes, which keeps at-least-once delivery safe.
func (s *service) executeJob(ctx context.Context, job *ProcessingJob, record *FileRecord, store BlobStore, buf []byte) (*JobOutput, error) {
	switch job.Type {
	case JobTypeThumbnail:
		sizes := make([]processor.ThumbnailSize, 0, len(job.Config.ThumbnailSizes))
		for _, ts := range job.Config.ThumbnailSizes {
			sizes = append(sizes, processor.ThumbnailSize{Width: ts.Width, Height: ts.Height, Quality: ts.Quality})
		}
		set, err := processor.GenerateThumbnails(buf, sizes)
		if err != nil {
			return nil, err
		}
		out := &JobOutput{Metadata: set.ImageInfoMap()}
		for _, r := range set.Renditions {
			key := ThumbnailKey(record.StorageKey, r.Width, r.Height)
			if err := store.UploadWithMime(ctx, key, r.Reader(), "image/jpeg"); err != nil {
				return nil, &StorageError{Provider: record.StorageProvider, Key: key, Op: "upload_thumbnail", Err: err}
			}
			out.Thumbnails = append(out.Thumbnails, ThumbnailDescriptor{
				StorageKey: key,
				Width:      r.Width,
				Height:     r.Height,
				Size:       int64(len(r.Data)),
				MimeType:   "image/jpeg",
			})
		}
		return out, nil

	case JobTypeExtraction:
		res, err := processor.Extract(buf, record.MimeType, processor.ExtractOptions{})
		if err != nil {
			return nil, err
		}
		return &JobOutput{ExtractedText: res.Text, Metadata: res.Metadata}, nil

	case JobTypeConversion:
		res, err := processor.Convert(buf, string(record.Category), job.Config.TargetFormat, job.Config.Quality)
		if err != nil {
			return nil, err
		}
		key := DerivedKey(record.StorageKey, "converted", res.Format)
		if err := store.UploadWithMime(ctx, key, res.Reader(), res.MimeType); err != nil {
			return nil, &StorageError{Provider: record.StorageProvider, Key: key, Op: "upload_converted", Err: err}
		}
		return &JobOutput{ResultKey: key, ResultSize: int64(len(res.Data))}, nil

	case JobTypeCompression:
		res, err := processor.Compress(buf, string(record.Category), job.Config.CompressionLevel, job.Config.TargetSize)
		if err != nil {
			return nil, err
		}
		key := DerivedKey(record.StorageKey, "compressed", res.Extension)
		if err := store.UploadWithMime(ctx, key, res.Reader(), res.MimeType); err != nil {
			return nil, &StorageError{Provider: record.StorageProvider, Key: key, Op: "upload_compressed", Err: err}
		}
		return &JobOutput{
			ResultKey:  key,
			ResultSize: res.CompressedSize,
			Metadata: map[string]interface{}{
				"original_size":     res.OriginalSize,
				"compressed_size":   res.CompressedSize,
				"compression_ratio": res.Ratio,
			},
		}, nil

	case JobTypeWatermark:
		res, err := processor.Watermark(buf, processor.WatermarkOptions{
			Text:     job.Config.WatermarkText,
			Position: processor.Position(job.Config.WatermarkPosition),
			Opacity:  job.Config.WatermarkOpacity,
		})
		if err != nil {
			return nil, err
		}
		key := DerivedKey(record.StorageKey, "watermarked", "jpg")
		if err := store.UploadWithMime(ctx, key, res.Reader(), "image/jpeg"); err != nil {
			return nil, &StorageError{Provider: record.StorageProvider, Key: key, Op: "upload_watermarked", Err: err}
		}
		return &JobOutput{ResultKey: key, ResultSize: int64(len(res.Data))}, nil

	default:
		return nil, fmt.Errorf("%w: job type %s", ErrUnsupportedOperation, job.Type)
	}
}

// applyOutput records a completed job's results on the file record.
func (s *service) applyOutput(record *FileRecord, jobType JobType, out *JobOutput) {
	switch jobType {
	case JobTypeThumbnail:
		record.Thumbnails = out.Thumbnails
	case JobTypeExtraction:
		record.ExtractedText = out.ExtractedText
	}
	if len(out.Metadata) > 0 {
		if record.Metadata == nil {
			record.Metadata = make(map[string]interface{})
		}
		for k, v := range out.Metadata {
			record.Metadata[k] = v
		}
	}
}

// runDeleteJob performs the irreversible second phase of a delete: removing
// physical objects and then the metadata record.
func (s *service) runDeleteJob(ctx context.Context, job *ProcessingJob) error {
	record, err := s.repo.GetFileIncludeDeleted(ctx, job.TenantID, job.FileID)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			// Already gone; the job's goal is met.
			s.completeJob(ctx, job, &JobOutput{})
			return nil
		}
		return &JobError{JobID: job.ID, Op: "load_file", Err: err}
	}
	if record.Status != FileStatusDeleted {
		s.failJob(ctx, job, "file is no longer marked deleted")
		return nil
	}

	s.transitionJob(ctx, job, JobStatusProcessing)

	store, err := s.storeFor(record.StorageProvider)
	if err != nil {
		s.failJob(ctx, job, err.Error())
		return nil
	}

	keys := []string{record.StorageKey}
	for _, t := range record.Thumbnails {
		keys = append(keys, t.StorageKey)
	}
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			exists, existsErr := store.Exists(ctx, key)
			if existsErr == nil && !exists {
				continue // already absent
			}
			s.failJob(ctx, job, fmt.Sprintf("delete %s: %v", key, err))
			return nil
		}
	}

	if err := s.repo.HardDeleteFile(ctx, record.TenantID, record.ID); err != nil {
		s.failJob(ctx, job, fmt.Sprintf("remove metadata: %v", err))
		return nil
	}

	s.completeJob(ctx, job, &JobOutput{})
	return nil
}

// settleFile moves a file to ready once all of its jobs have settled and at
// least one succeeded. When every job failed the record stays in processing
// and is flagged for inspection rather than silently failed.
func (s *service) settleFile(ctx context.Context, tenantID, fileID uuid.UUID) {
	record, err := s.repo.GetFile(ctx, tenantID, fileID)
	if err != nil {
		return
	}
	if record.Status != FileStatusProcessing {
		return
	}

	jobs, err := s.repo.ListJobsByFile(ctx, fileID)
	if err != nil {
		s.logger.Warn("settle: failed to list jobs", "file_id", fileID, "error", err)
		return
	}

	var completed, failed int
	for _, j := range jobs {
		if j.Type == JobTypeDeleteFile {
			continue
		}
		switch j.Status {
		case JobStatusPending, JobStatusProcessing:
			return // still in flight
		case JobStatusCompleted:
			completed++
		case JobStatusFailed:
			failed++
		}
	}

	now := s.clock.Now()
	if completed > 0 || failed == 0 {
		record.Status = FileStatusReady
	} else {
		if record.Metadata == nil {
			record.Metadata = make(map[string]interface{})
		}
		record.Metadata["processing_flagged"] = true
		s.logger.Warn("all processing jobs failed", "file_id", fileID, "failed", failed)
	}
	record.UpdatedAt = now
	if err := s.repo.UpdateFile(ctx, record); err != nil {
		s.logger.Warn("settle: failed to update file", "file_id", fileID, "error", err)
	}
}

func (s *service) transitionJob(ctx context.Context, job *ProcessingJob, to JobStatus) {
	if !jobTransitionAllowed(job.Status, to) {
		return
	}
	job.Status = to
	job.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		s.logger.Warn("job transition failed", "job_id", job.ID, "to", to, "error", err)
	}
}

func (s *service) failJob(ctx context.Context, job *ProcessingJob, detail string) {
	now := s.clock.Now()
	job.Status = JobStatusFailed
	job.Error = detail
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		s.logger.Warn("failed to record job failure", "job_id", job.ID, "error", err)
	}
}

func (s *service) completeJob(ctx context.Context, job *ProcessingJob, out *JobOutput) {
	now := s.clock.Now()
	job.Status = JobStatusCompleted
	job.Output = *out
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		s.logger.Warn("failed to record job completion", "job_id", job.ID, "error", err)
	}
}

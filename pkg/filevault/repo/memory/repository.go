// Package memory implements filevault.Repository with in-process maps.
// Intended for tests and single-node development setups.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stashd/filevault/pkg/filevault"
)

// Repository implements filevault.Repository using in-memory storage.
type Repository struct {
	mu    sync.RWMutex
	files map[uuid.UUID]*filevault.FileRecord
	jobs  map[uuid.UUID]*filevault.ProcessingJob
}

// New creates a new in-memory repository.
func New() filevault.Repository {
	return &Repository{
		files: make(map[uuid.UUID]*filevault.FileRecord),
		jobs:  make(map[uuid.UUID]*filevault.ProcessingJob),
	}
}

// copyFile clones a record so callers cannot mutate repository state.
func copyFile(r *filevault.FileRecord) *filevault.FileRecord {
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.Thumbnails != nil {
		c.Thumbnails = append([]filevault.ThumbnailDescriptor(nil), r.Thumbnails...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copyJob(j *filevault.ProcessingJob) *filevault.ProcessingJob {
	c := *j
	return &c
}

// File record operations

func (r *Repository) CreateFile(_ context.Context, record *filevault.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files[record.ID] = copyFile(record)
	return nil
}

func (r *Repository) GetFile(_ context.Context, tenantID, fileID uuid.UUID) (*filevault.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.files[fileID]
	if !exists || record.TenantID != tenantID || record.Status == filevault.FileStatusDeleted {
		return nil, filevault.ErrFileNotFound
	}
	return copyFile(record), nil
}

func (r *Repository) GetFileIncludeDeleted(_ context.Context, tenantID, fileID uuid.UUID) (*filevault.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.files[fileID]
	if !exists || record.TenantID != tenantID {
		return nil, filevault.ErrFileNotFound
	}
	return copyFile(record), nil
}

func (r *Repository) UpdateFile(_ context.Context, record *filevault.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[record.ID]; !exists {
		return filevault.ErrFileNotFound
	}
	r.files[record.ID] = copyFile(record)
	return nil
}

func (r *Repository) SoftDeleteFile(_ context.Context, tenantID, fileID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.files[fileID]
	if !exists || record.TenantID != tenantID {
		return filevault.ErrFileNotFound
	}
	if record.Status == filevault.FileStatusDeleted {
		// Deleting twice is a no-op.
		return nil
	}

	now := time.Now().UTC()
	record.Status = filevault.FileStatusDeleted
	record.DeletedAt = &now
	record.UpdatedAt = now
	return nil
}

func (r *Repository) HardDeleteFile(_ context.Context, tenantID, fileID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.files[fileID]
	if !exists || record.TenantID != tenantID {
		return filevault.ErrFileNotFound
	}
	delete(r.files, record.ID)
	return nil
}

func (r *Repository) TouchLastAccessed(_ context.Context, fileID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.files[fileID]
	if !exists {
		return filevault.ErrFileNotFound
	}
	record.LastAccessedAt = &at
	return nil
}

func (r *Repository) SearchFiles(_ context.Context, query filevault.SearchQuery) (*filevault.SearchResult, error) {
	start := time.Now()

	r.mu.RLock()
	var matched []*filevault.FileRecord
	for _, record := range r.files {
		if matches(record, query) {
			matched = append(matched, copyFile(record))
		}
	}
	r.mu.RUnlock()

	aggs := filevault.SearchAggregations{
		ByCategory: make(map[filevault.Category]int64),
		ByStatus:   make(map[filevault.FileStatus]int64),
	}
	for _, record := range matched {
		aggs.ByCategory[record.Category]++
		aggs.ByStatus[record.Status]++
	}

	sortRecords(matched, query)

	total := int64(len(matched))
	offset := query.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + query.Limit
	if query.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}

	return &filevault.SearchResult{
		Files:        matched[offset:end],
		Total:        total,
		HasMore:      int64(end) < total,
		SearchTime:   time.Since(start),
		Aggregations: aggs,
	}, nil
}

func matches(record *filevault.FileRecord, q filevault.SearchQuery) bool {
	if record.TenantID != q.TenantID {
		return false
	}
	if !q.IncludeDeleted && record.Status == filevault.FileStatusDeleted {
		return false
	}
	if q.NameContains != "" &&
		!strings.Contains(strings.ToLower(record.OriginalName), strings.ToLower(q.NameContains)) {
		return false
	}
	if q.MimeType != "" && record.MimeType != q.MimeType {
		return false
	}
	if q.Category != nil && record.Category != *q.Category {
		return false
	}
	if q.Status != nil && record.Status != *q.Status {
		return false
	}
	if q.Visibility != nil && record.Visibility != *q.Visibility {
		return false
	}
	if q.Tag != "" && !containsString(record.Tags, q.Tag) {
		return false
	}
	if q.FolderPath != "" && record.FolderPath != q.FolderPath {
		return false
	}
	if q.FullText != "" {
		needle := strings.ToLower(q.FullText)
		if !strings.Contains(strings.ToLower(record.ExtractedText), needle) &&
			!strings.Contains(strings.ToLower(record.OriginalName), needle) {
			return false
		}
	}
	if q.CreatedAfter != nil && record.CreatedAt.Before(*q.CreatedAfter) {
		return false
	}
	if q.CreatedBefore != nil && record.CreatedAt.After(*q.CreatedBefore) {
		return false
	}
	if q.MinSize != nil && record.Size < *q.MinSize {
		return false
	}
	if q.MaxSize != nil && record.Size > *q.MaxSize {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// sortRecords orders the match set. Name sorts ascending by default; every
// other key defaults to descending (newest or largest first).
func sortRecords(records []*filevault.FileRecord, q filevault.SearchQuery) {
	desc := q.SortBy != filevault.SortByName
	if q.SortDescending != nil {
		desc = *q.SortDescending
	}

	sort.SliceStable(records, func(i, j int) bool {
		var less bool
		switch q.SortBy {
		case filevault.SortByName:
			less = strings.ToLower(records[i].OriginalName) < strings.ToLower(records[j].OriginalName)
		case filevault.SortBySize:
			less = records[i].Size < records[j].Size
		case filevault.SortByModified:
			less = records[i].UpdatedAt.Before(records[j].UpdatedAt)
		default:
			less = records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		if desc {
			return !less
		}
		return less
	})
}

// Quota aggregation

func (r *Repository) GetTenantUsage(_ context.Context, tenantID uuid.UUID) (*filevault.TenantUsage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	usage := &filevault.TenantUsage{
		ByCategory: make(map[filevault.Category]int64),
	}
	for _, record := range r.files {
		if record.TenantID != tenantID || record.Status == filevault.FileStatusDeleted {
			continue
		}
		usage.UsedBytes += record.Size
		usage.FileCount++
		usage.ByCategory[record.Category]++
	}
	return usage, nil
}

func (r *Repository) HasExpiredFiles(_ context.Context, tenantID uuid.UUID, now time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.files {
		if record.TenantID != tenantID || record.Status == filevault.FileStatusDeleted {
			continue
		}
		if record.ExpiresAt != nil && record.ExpiresAt.Before(now) {
			return true, nil
		}
	}
	return false, nil
}

// Processing job operations

func (r *Repository) CreateJob(_ context.Context, job *filevault.ProcessingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *Repository) GetJob(_ context.Context, jobID uuid.UUID) (*filevault.ProcessingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[jobID]
	if !exists {
		return nil, filevault.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (r *Repository) UpdateJob(_ context.Context, job *filevault.ProcessingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; !exists {
		return filevault.ErrJobNotFound
	}
	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *Repository) ListJobsByFile(_ context.Context, fileID uuid.UUID) ([]*filevault.ProcessingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*filevault.ProcessingJob
	for _, job := range r.jobs {
		if job.FileID == fileID {
			result = append(result, copyJob(job))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *Repository) PruneJobs(_ context.Context, keepCompleted, keepFailed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prune := func(status filevault.JobStatus, keep int) {
		var settled []*filevault.ProcessingJob
		for _, job := range r.jobs {
			if job.Status == status {
				settled = append(settled, job)
			}
		}
		if len(settled) <= keep {
			return
		}
		sort.Slice(settled, func(i, j int) bool {
			return settled[i].UpdatedAt.After(settled[j].UpdatedAt)
		})
		for _, job := range settled[keep:] {
			delete(r.jobs, job.ID)
		}
	}

	prune(filevault.JobStatusCompleted, keepCompleted)
	prune(filevault.JobStatusFailed, keepFailed)
	return nil
}

package filevault_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd/filevault/pkg/filevault"
	memoryqueue "github.com/stashd/filevault/pkg/filevault/queue/memory"
	memoryrepo "github.com/stashd/filevault/pkg/filevault/repo/memory"
	memorystorage "github.com/stashd/filevault/pkg/filevault/storage/memory"
)

// fakeClock is a settable clock for deterministic lifecycle tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	svc   filevault.Service
	repo  filevault.Repository
	store filevault.BlobStore
	clock *fakeClock
}

func newTestEnv(t *testing.T, extra ...filevault.Option) *testEnv {
	t.Helper()

	repo := memoryrepo.New()
	store := memorystorage.New()
	queue := memoryqueue.New()
	t.Cleanup(func() { queue.Close() })
	clock := newFakeClock()

	opts := []filevault.Option{
		filevault.WithRepository(repo),
		filevault.WithBlobStore("memory", store),
		filevault.WithQueue(queue),
		filevault.WithClock(clock),
	}
	opts = append(opts, extra...)

	svc, err := filevault.New(opts...)
	require.NoError(t, err)
	return &testEnv{svc: svc, repo: repo, store: store, clock: clock}
}

// upload drives request + proxy-upload + complete and returns the record.
func (e *testEnv) upload(t *testing.T, tenantID, ownerID uuid.UUID, name, mime string, content []byte) *filevault.FileRecord {
	t.Helper()
	ctx := context.Background()

	target, err := e.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID,
		OwnerID:  ownerID,
		FileName: name,
		MimeType: mime,
		Size:     int64(len(content)),
	})
	require.NoError(t, err)
	require.Equal(t, filevault.UploadMethodDirect, target.Method)

	require.NoError(t, e.svc.ProxyUpload(ctx, tenantID, ownerID, target.FileID, bytes.NewReader(content)))

	record, err := e.svc.CompleteUpload(ctx, filevault.CompleteUploadRequest{
		FileID:   target.FileID,
		TenantID: tenantID,
	})
	require.NoError(t, err)
	return record
}

// runPendingJobs executes every pending job for a file directly, the way the
// worker pool would.
func (e *testEnv) runPendingJobs(t *testing.T, tenantID, fileID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	jobs, err := e.svc.ListJobs(ctx, tenantID, fileID)
	require.NoError(t, err)
	for _, job := range jobs {
		if job.Status != filevault.JobStatusPending {
			continue
		}
		err := e.svc.RunJob(ctx, filevault.JobMessage{
			JobID:    job.ID,
			FileID:   job.FileID,
			TenantID: job.TenantID,
			Type:     job.Type,
			RunAt:    job.RunAt,
		})
		require.NoError(t, err)
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestRequestUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	tests := []struct {
		name string
		req  filevault.UploadRequest
	}{
		{"empty filename", filevault.UploadRequest{TenantID: tenantID, MimeType: "text/plain", Size: 10}},
		{"zero size", filevault.UploadRequest{TenantID: tenantID, FileName: "a.txt", MimeType: "text/plain"}},
		{"negative size", filevault.UploadRequest{TenantID: tenantID, FileName: "a.txt", MimeType: "text/plain", Size: -1}},
		{"oversize", filevault.UploadRequest{TenantID: tenantID, FileName: "a.txt", MimeType: "text/plain", Size: filevault.GlobalMaxFileSize + 1}},
		{"disallowed mime", filevault.UploadRequest{TenantID: tenantID, FileName: "a.exe", MimeType: "application/x-msdownload", Size: 10}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.RequestUpload(ctx, tc.req)
			assert.ErrorIs(t, err, filevault.ErrValidation)
		})
	}
}

func TestRequestUploadMaxFileSizeBoundary(t *testing.T) {
	env := newTestEnv(t, filevault.WithQuotaLimits(filevault.QuotaLimits{MaxFileSize: 1000}))
	ctx := context.Background()
	tenantID := uuid.New()

	// Exactly at the ceiling is accepted.
	_, err := env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID,
		OwnerID:  uuid.New(),
		FileName: "exact.txt",
		MimeType: "text/plain",
		Size:     1000,
	})
	require.NoError(t, err)

	// One byte over is rejected.
	_, err = env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID,
		OwnerID:  uuid.New(),
		FileName: "over.txt",
		MimeType: "text/plain",
		Size:     1001,
	})
	assert.ErrorIs(t, err, filevault.ErrValidation)
}

func TestRequestUploadCustomMimeAllowList(t *testing.T) {
	env := newTestEnv(t, filevault.WithAllowedMimeTypes([]string{"image/jpeg", "Application/PDF"}))
	ctx := context.Background()
	tenantID := uuid.New()

	// Listed type accepted; normalization handles case and parameters.
	_, err := env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID,
		OwnerID:  uuid.New(),
		FileName: "scan.pdf",
		MimeType: "application/pdf; charset=binary",
		Size:     10,
	})
	require.NoError(t, err)

	// text/plain is in the default list but not in the configured one.
	_, err = env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID,
		OwnerID:  uuid.New(),
		FileName: "notes.txt",
		MimeType: "text/plain",
		Size:     10,
	})
	assert.ErrorIs(t, err, filevault.ErrValidation)
}

func TestUploadLifecycleDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID, ownerID := uuid.New(), uuid.New()

	record := env.upload(t, tenantID, ownerID, "report.txt", "text/plain", []byte("quarterly revenue is up"))
	assert.Equal(t, filevault.FileStatusProcessing, record.Status)
	assert.Equal(t, filevault.CategoryDocument, record.Category)

	env.runPendingJobs(t, tenantID, record.ID)

	got, err := env.svc.GetFile(ctx, tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, filevault.FileStatusReady, got.Status)
	assert.Contains(t, got.ExtractedText, "quarterly revenue")

	jobs, err := env.svc.ListJobs(ctx, tenantID, record.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, filevault.JobTypeExtraction, jobs[0].Type)
	assert.Equal(t, filevault.JobStatusCompleted, jobs[0].Status)
	require.NotNil(t, jobs[0].CompletedAt)
}

func TestUploadLifecycleImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID, ownerID := uuid.New(), uuid.New()

	record := env.upload(t, tenantID, ownerID, "photo.jpg", "image/jpeg", testJPEG(t, 1200, 900))
	assert.Equal(t, filevault.FileStatusProcessing, record.Status)

	env.runPendingJobs(t, tenantID, record.ID)

	got, err := env.svc.GetFile(ctx, tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, filevault.FileStatusReady, got.Status)
	require.Len(t, got.Thumbnails, len(filevault.DefaultThumbnailSizes))
	assert.Equal(t, "jpeg", got.Metadata["format"])

	// Renditions must actually exist in storage.
	for _, thumb := range got.Thumbnails {
		exists, err := env.store.Exists(ctx, thumb.StorageKey)
		require.NoError(t, err)
		assert.True(t, exists, thumb.StorageKey)
	}
}

func TestUploadNoJobsGoesStraightToReady(t *testing.T) {
	env := newTestEnv(t)
	tenantID := uuid.New()

	// Archives get no processing jobs.
	record := env.upload(t, tenantID, uuid.New(), "backup.zip", "application/zip", []byte("PK\x03\x04fake"))
	assert.Equal(t, filevault.FileStatusReady, record.Status)
}

func TestCompleteUploadTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	record := env.upload(t, tenantID, uuid.New(), "a.txt", "text/plain", []byte("x"))

	_, err := env.svc.CompleteUpload(ctx, filevault.CompleteUploadRequest{
		FileID:   record.ID,
		TenantID: tenantID,
	})
	assert.ErrorIs(t, err, filevault.ErrFileNotFound)
}

func TestCompleteUploadSizeReconciliation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	ownerID := uuid.New()
	target, err := env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID,
		OwnerID:  ownerID,
		FileName: "a.zip",
		MimeType: "application/zip",
		Size:     1000,
	})
	require.NoError(t, err)
	require.NoError(t, env.svc.ProxyUpload(ctx, tenantID, ownerID, target.FileID, strings.NewReader("short")))

	record, err := env.svc.CompleteUpload(ctx, filevault.CompleteUploadRequest{
		FileID:     target.FileID,
		TenantID:   tenantID,
		ActualSize: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), record.Size)
	assert.Equal(t, int64(1000), record.Metadata["declared_size"])
}

func TestQuotaEnforcement(t *testing.T) {
	env := newTestEnv(t, filevault.WithQuotaLimits(filevault.QuotaLimits{
		MaxBytes: 1000,
		MaxFiles: 2,
	}))
	ctx := context.Background()
	tenantID := uuid.New()

	first, err := env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID, OwnerID: uuid.New(),
		FileName: "a.zip", MimeType: "application/zip", Size: 900,
	})
	require.NoError(t, err)
	require.NotNil(t, first)

	// 900 + 150 breaches the byte cap.
	_, err = env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID, OwnerID: uuid.New(),
		FileName: "b.zip", MimeType: "application/zip", Size: 150,
	})
	assert.ErrorIs(t, err, filevault.ErrQuotaExceeded)

	// 900 + 100 fits exactly.
	_, err = env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID, OwnerID: uuid.New(),
		FileName: "c.zip", MimeType: "application/zip", Size: 100,
	})
	require.NoError(t, err)

	// Third file breaches the file-count cap.
	_, err = env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID, OwnerID: uuid.New(),
		FileName: "d.zip", MimeType: "application/zip", Size: 1,
	})
	assert.ErrorIs(t, err, filevault.ErrQuotaExceeded)

	// Other tenants are unaffected.
	_, err = env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: uuid.New(), OwnerID: uuid.New(),
		FileName: "e.zip", MimeType: "application/zip", Size: 900,
	})
	require.NoError(t, err)
}

func TestDownloadVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID, ownerID := uuid.New(), uuid.New()

	record := env.upload(t, tenantID, ownerID, "secret.zip", "application/zip", []byte("bytes"))

	t.Run("private blocks non-owner", func(t *testing.T) {
		_, err := env.svc.Download(ctx, filevault.DownloadRequest{
			FileID: record.ID, TenantID: tenantID, UserID: uuid.New(),
		})
		assert.ErrorIs(t, err, filevault.ErrPermissionDenied)
	})

	t.Run("owner downloads", func(t *testing.T) {
		target, err := env.svc.Download(ctx, filevault.DownloadRequest{
			FileID: record.ID, TenantID: tenantID, UserID: ownerID,
		})
		require.NoError(t, err)
		assert.Equal(t, filevault.DownloadMethodDirect, target.Method)
		assert.Equal(t, "secret.zip", target.FileName)
	})
}

func TestProxyDownloadVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID, ownerID := uuid.New(), uuid.New()

	record := env.upload(t, tenantID, ownerID, "secret.zip", "application/zip", []byte("classified"))

	// The proxy byte path enforces the same private-file rule as the
	// presigned path: non-owners get nothing back.
	_, err := env.svc.ProxyDownload(ctx, tenantID, uuid.New(), record.ID)
	assert.ErrorIs(t, err, filevault.ErrPermissionDenied)

	rc, err := env.svc.ProxyDownload(ctx, tenantID, ownerID, record.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("classified"), data)
}

func TestProxyUploadOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID, ownerID := uuid.New(), uuid.New()

	target, err := env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID,
		OwnerID:  ownerID,
		FileName: "a.zip",
		MimeType: "application/zip",
		Size:     5,
	})
	require.NoError(t, err)

	err = env.svc.ProxyUpload(ctx, tenantID, uuid.New(), target.FileID, strings.NewReader("bytes"))
	assert.ErrorIs(t, err, filevault.ErrPermissionDenied)

	require.NoError(t, env.svc.ProxyUpload(ctx, tenantID, ownerID, target.FileID, strings.NewReader("bytes")))
}

func TestDownloadBlockedWhileUploading(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	target, err := env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID: tenantID, OwnerID: uuid.New(),
		FileName: "a.zip", MimeType: "application/zip", Size: 10,
	})
	require.NoError(t, err)

	_, err = env.svc.Download(ctx, filevault.DownloadRequest{
		FileID: target.FileID, TenantID: tenantID,
	})
	assert.ErrorIs(t, err, filevault.ErrInvalidFileStatus)
}

func TestDeleteLifecycle(t *testing.T) {
	grace := 24 * time.Hour
	env := newTestEnv(t, filevault.WithDeleteGracePeriod(grace))
	ctx := context.Background()
	tenantID, ownerID := uuid.New(), uuid.New()

	record := env.upload(t, tenantID, ownerID, "old.zip", "application/zip", []byte("stale"))
	deletedAt := env.clock.Now()

	t.Run("non-owner cannot delete", func(t *testing.T) {
		err := env.svc.Delete(ctx, filevault.DeleteRequest{
			FileID: record.ID, TenantID: tenantID, UserID: uuid.New(),
		})
		assert.ErrorIs(t, err, filevault.ErrPermissionDenied)
	})

	require.NoError(t, env.svc.Delete(ctx, filevault.DeleteRequest{
		FileID: record.ID, TenantID: tenantID, UserID: ownerID,
	}))

	// Soft-deleted records vanish from reads but the bytes survive the
	// grace period.
	_, err := env.svc.GetFile(ctx, tenantID, record.ID)
	assert.ErrorIs(t, err, filevault.ErrFileNotFound)
	exists, err := env.store.Exists(ctx, record.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)

	jobs, err := env.svc.ListJobs(ctx, tenantID, record.ID)
	require.NoError(t, err)
	var deleteJob *filevault.ProcessingJob
	for _, j := range jobs {
		if j.Type == filevault.JobTypeDeleteFile {
			deleteJob = j
		}
	}
	require.NotNil(t, deleteJob)
	assert.Equal(t, deletedAt.Add(grace), deleteJob.RunAt)

	// Physical deletion runs after the grace period.
	env.clock.Advance(grace + time.Minute)
	require.NoError(t, env.svc.RunJob(ctx, filevault.JobMessage{
		JobID:    deleteJob.ID,
		FileID:   deleteJob.FileID,
		TenantID: deleteJob.TenantID,
		Type:     deleteJob.Type,
		RunAt:    deleteJob.RunAt,
	}))

	exists, err = env.store.Exists(ctx, record.StorageKey)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = env.repo.GetFileIncludeDeleted(ctx, tenantID, record.ID)
	assert.ErrorIs(t, err, filevault.ErrFileNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID, ownerID := uuid.New(), uuid.New()

	record := env.upload(t, tenantID, ownerID, "a.zip", "application/zip", []byte("x"))

	req := filevault.DeleteRequest{FileID: record.ID, TenantID: tenantID, UserID: ownerID}
	require.NoError(t, env.svc.Delete(ctx, req))

	// The record is gone from tenant reads, so a repeat delete reports
	// not-found rather than failing loudly.
	err := env.svc.Delete(ctx, req)
	assert.ErrorIs(t, err, filevault.ErrFileNotFound)
}

func TestRunJobSettledJobIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	record := env.upload(t, tenantID, uuid.New(), "a.txt", "text/plain", []byte("text"))
	env.runPendingJobs(t, tenantID, record.ID)

	jobs, err := env.svc.ListJobs(ctx, tenantID, record.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	settled := *jobs[0]

	// Redelivery of an already-settled job is a no-op.
	require.NoError(t, env.svc.RunJob(ctx, filevault.JobMessage{
		JobID: settled.ID, FileID: settled.FileID, TenantID: settled.TenantID, Type: settled.Type,
	}))

	jobs, err = env.svc.ListJobs(ctx, tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, settled.UpdatedAt, jobs[0].UpdatedAt)
}

func TestRunJobUnknownJobIsDiscarded(t *testing.T) {
	env := newTestEnv(t)

	// A message for a pruned job must not request redelivery.
	err := env.svc.RunJob(context.Background(), filevault.JobMessage{JobID: uuid.New()})
	assert.NoError(t, err)
}

func TestRunJobFailureFlagsFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	// Declared as JPEG but the bytes are garbage, so thumbnailing fails.
	record := env.upload(t, tenantID, uuid.New(), "broken.jpg", "image/jpeg", []byte("not an image"))
	env.runPendingJobs(t, tenantID, record.ID)

	jobs, err := env.svc.ListJobs(ctx, tenantID, record.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, filevault.JobStatusFailed, jobs[0].Status)
	assert.NotEmpty(t, jobs[0].Error)

	// The file is not failed outright; it stays visible and flagged for
	// operator attention.
	got, err := env.svc.GetFile(ctx, tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, filevault.FileStatusProcessing, got.Status)
	assert.Equal(t, true, got.Metadata["processing_flagged"])
}

func TestGetQuotaWarnings(t *testing.T) {
	env := newTestEnv(t, filevault.WithQuotaLimits(filevault.QuotaLimits{
		MaxBytes: 1000,
		MaxFiles: 10,
	}))
	ctx := context.Background()
	tenantID := uuid.New()

	env.upload(t, tenantID, uuid.New(), "big.zip", "application/zip", bytes.Repeat([]byte("x"), 850))

	quota, err := env.svc.GetQuota(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(850), quota.UsedBytes)
	assert.Equal(t, int64(1), quota.FileCount)
	assert.True(t, quota.NearQuotaLimit)
	assert.False(t, quota.NearFileLimit)
	assert.False(t, quota.HasExpiredFiles)
	assert.Equal(t, int64(1), quota.ByCategory[filevault.CategoryArchive])
}

func TestGetQuotaExpiredFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	expires := env.clock.Now().Add(time.Hour)
	_, err := env.svc.RequestUpload(ctx, filevault.UploadRequest{
		TenantID:  tenantID,
		OwnerID:   uuid.New(),
		FileName:  "temp.zip",
		MimeType:  "application/zip",
		Size:      10,
		ExpiresAt: &expires,
	})
	require.NoError(t, err)

	quota, err := env.svc.GetQuota(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, quota.HasExpiredFiles)

	env.clock.Advance(2 * time.Hour)
	quota, err = env.svc.GetQuota(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, quota.HasExpiredFiles)
}

func TestSearchDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenantID := uuid.New()

	env.upload(t, tenantID, uuid.New(), "one.zip", "application/zip", []byte("a"))
	env.clock.Advance(time.Minute)
	env.upload(t, tenantID, uuid.New(), "two.zip", "application/zip", []byte("bb"))

	result, err := env.svc.Search(ctx, filevault.SearchQuery{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, result.Files, 2)
	// Newest first by default.
	assert.Equal(t, "two.zip", result.Files[0].OriginalName)
	assert.Equal(t, int64(2), result.Total)
	assert.Equal(t, int64(2), result.Aggregations.ByCategory[filevault.CategoryArchive])
}

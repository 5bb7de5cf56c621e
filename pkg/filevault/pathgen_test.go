package filevault

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my photo (1).jpg", "my_photo_1_.jpg"},
		{"../../etc/passwd", "passwd"},
		{"..\\..\\windows\\system32", "system32"},
		{"héllo wörld.txt", "h_llo_w_rld.txt"},
		{"...", "file"},
		{"", "file"},
		{"UPPER_case-ok.TXT", "UPPER_case-ok.TXT"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeFilename(tc.in))
		})
	}
}

func TestStorageKey(t *testing.T) {
	tenantID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	fileID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	now := time.Date(2025, 3, 7, 9, 30, 0, 0, time.UTC)

	got := StorageKey(tenantID, fileID, "invoice.pdf", now)
	want := fmt.Sprintf("%s/2025/03/07/%s/invoice.pdf", tenantID, fileID)
	assert.Equal(t, want, got)

	// The key is deterministic for the same inputs.
	assert.Equal(t, got, StorageKey(tenantID, fileID, "invoice.pdf", now))

	// Local time zones must not shift the date path.
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2025, 3, 7, 22, 0, 0, 0, est) // 03:00 UTC next day
	assert.Contains(t, StorageKey(tenantID, fileID, "invoice.pdf", late), "/2025/03/08/")
}

func TestThumbnailKey(t *testing.T) {
	key := "tenant/2025/03/07/file/photo.jpg"
	assert.Equal(t,
		"tenant/2025/03/07/file/thumbnails/photo_150x150.jpg",
		ThumbnailKey(key, 150, 150))

	// Non-JPEG originals still get .jpg renditions.
	assert.Equal(t,
		"tenant/2025/03/07/file/thumbnails/scan_800x600.jpg",
		ThumbnailKey("tenant/2025/03/07/file/scan.png", 800, 600))
}

func TestDerivedKey(t *testing.T) {
	key := "tenant/2025/03/07/file/photo.png"
	assert.Equal(t,
		"tenant/2025/03/07/file/photo_converted.webp",
		DerivedKey(key, "converted", "webp"))
	assert.Equal(t,
		"tenant/2025/03/07/file/photo_compressed.gz",
		DerivedKey(key, "compressed", ".gz"))
}

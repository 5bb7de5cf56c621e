package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd/filevault/pkg/filevault"
)

func newTestBackend(t *testing.T) filevault.BlobStore {
	t.Helper()
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return backend
}

func TestNewRequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	err := backend.Upload(ctx, "tenant/2026/01/02/f1/report.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)

	rc, err := backend.Download(ctx, "tenant/2026/01/02/f1/report.pdf")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))
}

func TestDownloadMissingObject(t *testing.T) {
	backend := newTestBackend(t)

	_, err := backend.Download(context.Background(), "nope")
	assert.Error(t, err)
}

func TestDeleteCleansEmptyDirectories(t *testing.T) {
	base := t.TempDir()
	backend, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "a/b/c/file.bin", strings.NewReader("x")))
	require.NoError(t, backend.Delete(ctx, "a/b/c/file.bin"))

	_, err = os.Stat(filepath.Join(base, "a"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(base)
	assert.NoError(t, err)
}

func TestRejectsPathTraversal(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	err := backend.Upload(ctx, "../escape.txt", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = backend.Download(ctx, "../../etc/passwd")
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	exists, err := backend.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, backend.Upload(ctx, "k", strings.NewReader("x")))
	exists, err = backend.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetObjectMetaDetectsContentType(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "page.html", strings.NewReader("<html><body>hi</body></html>")))

	meta, err := backend.GetObjectMeta(ctx, "page.html")
	require.NoError(t, err)
	assert.Contains(t, meta.ContentType, "text/html")
	assert.Equal(t, int64(28), meta.Size)
}

func TestURLsWithoutPrefixAreUnsupported(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.GetUploadURL(ctx, "k", "text/plain")
	assert.ErrorIs(t, err, filevault.ErrPresignNotSupported)

	_, err = backend.GetDownloadURL(ctx, "k", "")
	assert.ErrorIs(t, err, filevault.ErrPresignNotSupported)
}

func TestURLsWithPrefix(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir(), URLPrefix: "http://localhost:8080/blobs/"})
	require.NoError(t, err)
	ctx := context.Background()

	up, err := backend.GetUploadURL(ctx, "a/b.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/upload/a/b.txt", up)

	down, err := backend.GetDownloadURL(ctx, "a/b.txt", "report 1.txt")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/download/a/b.txt?filename=report+1.txt", down)
}

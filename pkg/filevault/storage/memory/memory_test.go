package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd/filevault/pkg/filevault"
)

func TestUploadDownloadRoundTrip(t *testing.T) {
	backend := New()
	ctx := context.Background()

	err := backend.UploadWithMime(ctx, "tenant/file.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)

	rc, err := backend.Download(ctx, "tenant/file.txt")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestGetObjectMeta(t *testing.T) {
	backend := New()
	ctx := context.Background()

	require.NoError(t, backend.UploadWithMime(ctx, "k", strings.NewReader("12345"), "text/plain"))

	meta, err := backend.GetObjectMeta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "k", meta.Key)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "text/plain", meta.ContentType)

	_, err = backend.GetObjectMeta(ctx, "missing")
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	backend := New()
	ctx := context.Background()

	exists, err := backend.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, backend.Upload(ctx, "k", strings.NewReader("x")))

	exists, err = backend.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDelete(t *testing.T) {
	backend := New()
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "k", strings.NewReader("x")))
	require.NoError(t, backend.Delete(ctx, "k"))

	_, err := backend.Download(ctx, "k")
	assert.Error(t, err)

	assert.Error(t, backend.Delete(ctx, "k"))
}

func TestPresignNotSupported(t *testing.T) {
	backend := New()
	ctx := context.Background()

	_, err := backend.GetUploadURL(ctx, "k", "text/plain")
	assert.ErrorIs(t, err, filevault.ErrPresignNotSupported)

	_, err = backend.GetDownloadURL(ctx, "k", "")
	assert.ErrorIs(t, err, filevault.ErrPresignNotSupported)
}

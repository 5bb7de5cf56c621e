// Package memory provides an in-memory BlobStore for tests and ephemeral
// deployments.
package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/stashd/filevault/pkg/filevault"
)

// Backend is an in-memory implementation of the filevault.BlobStore interface.
type Backend struct {
	mu        sync.RWMutex
	objects   map[string][]byte
	mimeTypes map[string]string
	updatedAt map[string]time.Time
}

// New creates a new in-memory storage backend.
func New() filevault.BlobStore {
	return &Backend{
		objects:   make(map[string][]byte),
		mimeTypes: make(map[string]string),
		updatedAt: make(map[string]time.Time),
	}
}

// Upload stores content under the key with the default content type.
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	return b.UploadWithMime(ctx, key, reader, "application/octet-stream")
}

// UploadWithMime stores content under the key with an explicit content type.
func (b *Backend) UploadWithMime(_ context.Context, key string, reader io.Reader, mimeType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = data
	b.mimeTypes[key] = mimeType
	b.updatedAt[key] = time.Now().UTC()
	return nil
}

// Download returns the object bytes.
func (b *Backend) Download(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[key]
	if !exists {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object.
func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; !exists {
		return errors.New("object not found")
	}
	delete(b.objects, key)
	delete(b.mimeTypes, key)
	delete(b.updatedAt, key)
	return nil
}

// Exists reports whether the object is present.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.objects[key]
	return exists, nil
}

// GetObjectMeta retrieves metadata for an object in memory.
func (b *Backend) GetObjectMeta(_ context.Context, key string) (*filevault.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[key]
	if !exists {
		return nil, errors.New("object not found")
	}

	return &filevault.ObjectMeta{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: b.mimeTypes[key],
		UpdatedAt:   b.updatedAt[key],
	}, nil
}

// GetUploadURL is not supported; the memory backend has no URL surface.
func (b *Backend) GetUploadURL(_ context.Context, _ string, _ string) (string, error) {
	return "", filevault.ErrPresignNotSupported
}

// GetDownloadURL is not supported; the memory backend has no URL surface.
func (b *Backend) GetDownloadURL(_ context.Context, _ string, _ string) (string, error) {
	return "", filevault.ErrPresignNotSupported
}

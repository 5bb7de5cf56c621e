// Package fs provides a local-filesystem BlobStore.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/stashd/filevault/pkg/filevault"
)

// Backend is a filesystem implementation of the filevault.BlobStore interface.
type Backend struct {
	baseDir   string
	urlPrefix string
}

// Config options for the filesystem backend.
type Config struct {
	BaseDir   string // Base directory for storing files
	URLPrefix string // Optional URL prefix for download/upload URLs
}

// New creates a new filesystem storage backend.
func New(config Config) (filevault.BlobStore, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir:   config.BaseDir,
		urlPrefix: strings.TrimSuffix(config.URLPrefix, "/"),
	}, nil
}

// path resolves an object key inside baseDir, rejecting traversal outside it.
func (b *Backend) path(key string) (string, error) {
	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(b.baseDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key: %s", key)
	}
	return p, nil
}

// Upload writes content to the filesystem.
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	return b.UploadWithMime(ctx, key, reader, "")
}

// UploadWithMime writes content to the filesystem. The MIME type is not
// stored separately; it is detected on read.
func (b *Backend) UploadWithMime(_ context.Context, key string, reader io.Reader, _ string) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Download opens the file for reading.
func (b *Backend) Download(_ context.Context, key string) (io.ReadCloser, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, errors.New("object not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes the file and prunes any directories it leaves empty.
func (b *Backend) Delete(_ context.Context, key string) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return errors.New("object not found")
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// Exists reports whether the file is present.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	filePath, err := b.path(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filePath)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// GetObjectMeta retrieves metadata for an object in the filesystem.
func (b *Backend) GetObjectMeta(_ context.Context, key string) (*filevault.ObjectMeta, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, errors.New("object not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}

	return &filevault.ObjectMeta{
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// GetUploadURL returns a proxy upload URL when a URL prefix is configured.
// The filesystem backend cannot presign.
func (b *Backend) GetUploadURL(_ context.Context, key string, _ string) (string, error) {
	if b.urlPrefix == "" {
		return "", filevault.ErrPresignNotSupported
	}
	return fmt.Sprintf("%s/upload/%s", b.urlPrefix, key), nil
}

// GetDownloadURL returns a proxy download URL when a URL prefix is
// configured.
func (b *Backend) GetDownloadURL(_ context.Context, key string, downloadFilename string) (string, error) {
	if b.urlPrefix == "" {
		return "", filevault.ErrPresignNotSupported
	}
	if downloadFilename != "" {
		return fmt.Sprintf("%s/download/%s?filename=%s", b.urlPrefix, key, url.QueryEscape(downloadFilename)), nil
	}
	return fmt.Sprintf("%s/download/%s", b.urlPrefix, key), nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir.
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

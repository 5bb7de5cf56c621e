// Package minio provides a BlobStore over a managed object store speaking
// the MinIO API.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stashd/filevault/pkg/filevault"
)

// Config options for the MinIO backend.
type Config struct {
	Endpoint        string // Host:port of the object store
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
	PresignDuration int // Duration in seconds for presigned URLs (default: 3600)

	CreateBucketIfNotExist bool
}

// Backend is a MinIO implementation of the filevault.BlobStore interface.
type Backend struct {
	client          *minio.Client
	bucket          string
	presignDuration time.Duration
}

// New creates a new MinIO storage backend.
func New(config Config) (filevault.BlobStore, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.PresignDuration == 0 {
		config.PresignDuration = 3600
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	backend := &Backend{
		client:          client,
		bucket:          config.Bucket,
		presignDuration: time.Duration(config.PresignDuration) * time.Second,
	}

	if config.CreateBucketIfNotExist {
		ctx := context.Background()
		exists, err := client.BucketExists(ctx, config.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket: %w", err)
		}
		if !exists {
			err = client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region})
			if err != nil {
				return nil, fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	}

	return backend, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}

// Upload uploads content with the default content type.
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	return b.UploadWithMime(ctx, key, reader, "application/octet-stream")
}

// UploadWithMime uploads content with an explicit content type. The size is
// unknown up front, so the client streams with multipart uploads.
func (b *Backend) UploadWithMime(ctx context.Context, key string, reader io.Reader, mimeType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, reader, -1, minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to minio: %w", err)
	}
	return nil
}

// Download downloads content directly from the object store.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject defers errors to the first read; stat first so a missing key
	// surfaces here.
	if _, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, errors.New("object not found")
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download from minio: %w", err)
	}
	return obj, nil
}

// Delete deletes content from the object store.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from minio: %w", err)
	}
	return nil
}

// Exists reports whether the object is present.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return true, nil
}

// GetObjectMeta retrieves metadata for an object.
func (b *Backend) GetObjectMeta(ctx context.Context, key string) (*filevault.ObjectMeta, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.New("object not found")
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	return &filevault.ObjectMeta{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        strings.Trim(info.ETag, "\""),
		UpdatedAt:   info.LastModified,
	}, nil
}

// GetUploadURL returns a presigned URL for uploading content. MinIO presigned
// PUT URLs do not pin the content type.
func (b *Backend) GetUploadURL(ctx context.Context, key string, _ string) (string, error) {
	u, err := b.client.PresignedPutObject(ctx, b.bucket, key, b.presignDuration)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned upload URL: %w", err)
	}
	return u.String(), nil
}

// GetDownloadURL returns a presigned URL for downloading content.
func (b *Backend) GetDownloadURL(ctx context.Context, key string, downloadFilename string) (string, error) {
	reqParams := make(url.Values)
	if downloadFilename != "" {
		reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", downloadFilename))
	}

	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, b.presignDuration, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return u.String(), nil
}

// Package config assembles a filevault Service from declarative
// configuration: defaults, programmatic options, and environment overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashd/filevault/pkg/filevault"
	"github.com/stashd/filevault/pkg/filevault/queue"
	memoryqueue "github.com/stashd/filevault/pkg/filevault/queue/memory"
	natsqueue "github.com/stashd/filevault/pkg/filevault/queue/nats"
	memoryrepo "github.com/stashd/filevault/pkg/filevault/repo/memory"
	repopg "github.com/stashd/filevault/pkg/filevault/repo/postgres"
	fsstorage "github.com/stashd/filevault/pkg/filevault/storage/fs"
	memorystorage "github.com/stashd/filevault/pkg/filevault/storage/memory"
	miniostorage "github.com/stashd/filevault/pkg/filevault/storage/minio"
	s3storage "github.com/stashd/filevault/pkg/filevault/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		DatabaseType:          "memory",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{Name: "memory", Type: "memory", Config: map[string]interface{}{}},
		},
		QueueType:         "memory",
		WorkerConcurrency: queue.DefaultConcurrency,
		MaxFileSize:       filevault.GlobalMaxFileSize,
		ThumbnailSizes:    filevault.DefaultThumbnailSizes,
		DeleteGracePeriod: filevault.DefaultDeleteGracePeriod,
		PresignTTL:        time.Hour,
	}
}

// ServerConfig represents server configuration for the filevault service.
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig

	// Job queue configuration
	QueueType         string // "memory", "nats"
	QueueURL          string
	WorkerConcurrency int

	// Quota and processing policy
	MaxFileSize       int64
	MaxTenantBytes    int64
	MaxTenantFiles    int64
	AllowedMimeTypes  []string // empty means the library default allow-list
	ThumbnailSizes    []filevault.ThumbnailSize
	DeleteGracePeriod time.Duration
	PresignTTL        time.Duration
}

// StorageBackendConfig represents configuration for one storage backend.
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3", "minio"
	Config map[string]interface{}
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}
	if c.QueueType != "memory" && c.QueueType != "nats" {
		return errors.New("queue_type must be 'memory' or 'nats'")
	}
	if c.QueueType == "nats" && c.QueueURL == "" {
		return errors.New("queue_url is required when using nats")
	}
	if c.WorkerConcurrency <= 0 {
		return errors.New("worker_concurrency must be positive")
	}

	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend %q not found in configured backends", c.DefaultStorageBackend)
	}
	return nil
}

// BuildService creates a Service and its job queue from the configuration.
// The queue is returned separately so the caller can hand it to a worker
// pool and close it on shutdown.
func (c *ServerConfig) BuildService() (filevault.Service, filevault.JobQueue, error) {
	repo, err := c.buildRepository()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}

	jobQueue, err := c.buildQueue()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build job queue: %w", err)
	}

	options := []filevault.Option{
		filevault.WithRepository(repo),
		filevault.WithQueue(jobQueue),
		filevault.WithDefaultProvider(c.DefaultStorageBackend),
		filevault.WithQuotaLimits(filevault.QuotaLimits{
			MaxBytes:    c.MaxTenantBytes,
			MaxFiles:    c.MaxTenantFiles,
			MaxFileSize: c.MaxFileSize,
		}),
		filevault.WithAllowedMimeTypes(c.AllowedMimeTypes),
		filevault.WithThumbnailSizes(c.ThumbnailSizes),
		filevault.WithDeleteGracePeriod(c.DeleteGracePeriod),
		filevault.WithPresignTTL(c.PresignTTL),
	}

	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(backendConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		options = append(options, filevault.WithBlobStore(backendConfig.Name, store))
	}

	svc, err := filevault.New(options...)
	if err != nil {
		jobQueue.Close()
		return nil, nil, err
	}
	return svc, jobQueue, nil
}

// buildRepository creates a Repository based on the configuration.
func (c *ServerConfig) buildRepository() (filevault.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memoryrepo.New(), nil
	case "postgres":
		pool, err := pgxpool.New(context.Background(), c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// buildQueue creates a JobQueue based on the configuration.
func (c *ServerConfig) buildQueue() (filevault.JobQueue, error) {
	switch c.QueueType {
	case "memory":
		return memoryqueue.New(), nil
	case "nats":
		return natsqueue.New(c.QueueURL)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", c.QueueType)
	}
}

// buildStorageBackend creates a BlobStore based on the backend configuration.
func (c *ServerConfig) buildStorageBackend(config StorageBackendConfig) (filevault.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir:   getString(config.Config, "base_dir", "./data/storage"),
			URLPrefix: getString(config.Config, "url_prefix", ""),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			PresignDuration:        getInt(config.Config, "presign_duration", int(c.PresignTTL.Seconds())),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	case "minio":
		return miniostorage.New(miniostorage.Config{
			Endpoint:               getString(config.Config, "endpoint", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Bucket:                 getString(config.Config, "bucket", ""),
			Region:                 getString(config.Config, "region", ""),
			UseSSL:                 getBool(config.Config, "use_ssl", true),
			PresignDuration:        getInt(config.Config, "presign_duration", int(c.PresignTTL.Seconds())),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		switch v := value.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return defaultValue
}

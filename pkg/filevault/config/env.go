package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/stashd/filevault/pkg/filevault"
)

// envConfig is the flat environment surface, read with cleanenv.
type envConfig struct {
	Port        string `env:"PORT" env-default:""`
	Environment string `env:"ENVIRONMENT" env-default:""`

	// DATABASE_URL: empty or "memory" for in-memory, otherwise a
	// postgres:// connection string.
	DatabaseURL string `env:"DATABASE_URL" env-default:""`

	// STORAGE_URL: memory://, file:///path, s3://bucket?region=...,
	// minio://host:port/bucket
	StorageURL      string `env:"STORAGE_URL" env-default:""`
	AccessKeyID     string `env:"STORAGE_ACCESS_KEY_ID" env-default:""`
	SecretAccessKey string `env:"STORAGE_SECRET_ACCESS_KEY" env-default:""`

	// QUEUE_URL: memory:// or nats://host:4222
	QueueURL          string `env:"QUEUE_URL" env-default:""`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" env-default:"0"`

	MaxFileSize    int64 `env:"MAX_FILE_SIZE" env-default:"0"`
	MaxTenantBytes int64 `env:"MAX_TENANT_BYTES" env-default:"0"`
	MaxTenantFiles int64 `env:"MAX_TENANT_FILES" env-default:"0"`

	// ALLOWED_MIME_TYPES: comma-separated types, e.g.
	// "image/jpeg,image/png,application/pdf". Empty keeps the default list.
	AllowedMimeTypes string `env:"ALLOWED_MIME_TYPES" env-default:""`

	// THUMBNAIL_SIZES: comma-separated WxH or WxH@Q entries, e.g.
	// "150x150,300x300@90".
	ThumbnailSizes string `env:"THUMBNAIL_SIZES" env-default:""`

	DeleteGracePeriod time.Duration `env:"DELETE_GRACE_PERIOD" env-default:"0"`
	PresignTTL        time.Duration `env:"PRESIGN_TTL" env-default:"0"`
}

// WithEnv applies environment variable overrides on top of the current
// configuration.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}

		if env.Port != "" {
			c.Port = env.Port
		}
		if env.Environment != "" {
			c.Environment = env.Environment
		}

		if err := applyDatabaseEnv(env.DatabaseURL, c); err != nil {
			return err
		}
		if err := applyStorageEnv(env, c); err != nil {
			return err
		}
		if err := applyQueueEnv(env.QueueURL, c); err != nil {
			return err
		}

		if env.WorkerConcurrency > 0 {
			c.WorkerConcurrency = env.WorkerConcurrency
		}
		if env.MaxFileSize > 0 {
			c.MaxFileSize = env.MaxFileSize
		}
		if env.MaxTenantBytes > 0 {
			c.MaxTenantBytes = env.MaxTenantBytes
		}
		if env.MaxTenantFiles > 0 {
			c.MaxTenantFiles = env.MaxTenantFiles
		}
		if env.AllowedMimeTypes != "" {
			types, err := parseMimeList(env.AllowedMimeTypes)
			if err != nil {
				return err
			}
			c.AllowedMimeTypes = types
		}
		if env.ThumbnailSizes != "" {
			sizes, err := parseThumbnailSizes(env.ThumbnailSizes)
			if err != nil {
				return err
			}
			c.ThumbnailSizes = sizes
		}
		if env.DeleteGracePeriod > 0 {
			c.DeleteGracePeriod = env.DeleteGracePeriod
		}
		if env.PresignTTL > 0 {
			c.PresignTTL = env.PresignTTL
		}
		return nil
	}
}

func applyDatabaseEnv(dbURL string, c *ServerConfig) error {
	switch {
	case dbURL == "" || dbURL == "memory":
		return nil
	case strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
		return nil
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgres://...')", dbURL)
	}
}

func applyQueueEnv(queueURL string, c *ServerConfig) error {
	switch {
	case queueURL == "" || queueURL == "memory" || queueURL == "memory://":
		return nil
	case strings.HasPrefix(queueURL, "nats://"):
		c.QueueType = "nats"
		c.QueueURL = queueURL
		return nil
	default:
		return fmt.Errorf("unsupported QUEUE_URL format: %s (use 'memory://' or 'nats://...')", queueURL)
	}
}

func applyStorageEnv(env envConfig, c *ServerConfig) error {
	raw := env.StorageURL
	if raw == "" || raw == "memory" || raw == "memory://" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	var backend StorageBackendConfig
	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		backend = StorageBackendConfig{
			Name: "fs",
			Type: "fs",
			Config: map[string]interface{}{
				"base_dir":   u.Path,
				"url_prefix": u.Query().Get("url_prefix"),
			},
		}

	case "s3":
		if u.Host == "" {
			return fmt.Errorf("bucket name is required in STORAGE_URL")
		}
		q := u.Query()
		backend = StorageBackendConfig{
			Name: "s3",
			Type: "s3",
			Config: map[string]interface{}{
				"bucket":                     u.Host,
				"region":                     q.Get("region"),
				"endpoint":                   q.Get("endpoint"),
				"access_key_id":              env.AccessKeyID,
				"secret_access_key":          env.SecretAccessKey,
				"use_path_style":             q.Get("use_path_style") == "true",
				"create_bucket_if_not_exist": q.Get("create_bucket") == "true",
			},
		}

	case "minio":
		bucket := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || bucket == "" {
			return fmt.Errorf("STORAGE_URL for minio must be minio://host:port/bucket")
		}
		q := u.Query()
		backend = StorageBackendConfig{
			Name: "minio",
			Type: "minio",
			Config: map[string]interface{}{
				"endpoint":                   u.Host,
				"bucket":                     bucket,
				"region":                     q.Get("region"),
				"access_key_id":              env.AccessKeyID,
				"secret_access_key":          env.SecretAccessKey,
				"use_ssl":                    q.Get("use_ssl") != "false",
				"create_bucket_if_not_exist": q.Get("create_bucket") == "true",
			},
		}

	default:
		return fmt.Errorf("unsupported STORAGE_URL scheme: %s", u.Scheme)
	}

	c.DefaultStorageBackend = backend.Name
	c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
	return nil
}

func upsertStorageBackend(backends []StorageBackendConfig, backend StorageBackendConfig) []StorageBackendConfig {
	for i, b := range backends {
		if b.Name == backend.Name {
			backends[i] = backend
			return backends
		}
	}
	return append(backends, backend)
}

// parseMimeList splits a comma-separated MIME-type list, rejecting entries
// that are not a type/subtype pair.
func parseMimeList(raw string) ([]string, error) {
	var types []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			return nil, fmt.Errorf("invalid MIME type %q in ALLOWED_MIME_TYPES", entry)
		}
		types = append(types, entry)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("no MIME types in %q", raw)
	}
	return types, nil
}

// parseThumbnailSizes parses "150x150,300x300@90" style ladders.
func parseThumbnailSizes(raw string) ([]filevault.ThumbnailSize, error) {
	var sizes []filevault.ThumbnailSize
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		quality := 85
		if at := strings.IndexByte(entry, '@'); at >= 0 {
			q, err := strconv.Atoi(entry[at+1:])
			if err != nil || q <= 0 || q > 100 {
				return nil, fmt.Errorf("invalid thumbnail quality in %q", entry)
			}
			quality = q
			entry = entry[:at]
		}

		dims := strings.SplitN(entry, "x", 2)
		if len(dims) != 2 {
			return nil, fmt.Errorf("invalid thumbnail size %q (want WxH)", entry)
		}
		w, err := strconv.Atoi(dims[0])
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("invalid thumbnail width in %q", entry)
		}
		h, err := strconv.Atoi(dims[1])
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid thumbnail height in %q", entry)
		}

		sizes = append(sizes, filevault.ThumbnailSize{Width: w, Height: h, Quality: quality})
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no thumbnail sizes in %q", raw)
	}
	return sizes, nil
}

package config

import (
	"fmt"
	"time"

	"github.com/stashd/filevault/pkg/filevault"
)

// WithPort sets the server port.
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing).
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the metadata database.
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithQueue configures the job queue backend.
func WithQueue(queueType, url string) Option {
	return func(c *ServerConfig) error {
		if queueType != "memory" && queueType != "nats" {
			return fmt.Errorf("queue type must be 'memory' or 'nats', got: %s", queueType)
		}
		if queueType == "nats" && url == "" {
			return fmt.Errorf("queue URL is required for nats")
		}
		c.QueueType = queueType
		c.QueueURL = url
		return nil
	}
}

// WithStorageBackend registers (or replaces) a storage backend.
func WithStorageBackend(backend StorageBackendConfig) Option {
	return func(c *ServerConfig) error {
		if backend.Name == "" {
			return fmt.Errorf("storage backend name cannot be empty")
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithDefaultStorage sets the default storage backend name.
func WithDefaultStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("default storage backend name cannot be empty")
		}
		c.DefaultStorageBackend = name
		return nil
	}
}

// WithQuotas sets the per-tenant storage ceilings.
func WithQuotas(maxFileSize, maxTenantBytes, maxTenantFiles int64) Option {
	return func(c *ServerConfig) error {
		if maxFileSize > 0 {
			c.MaxFileSize = maxFileSize
		}
		c.MaxTenantBytes = maxTenantBytes
		c.MaxTenantFiles = maxTenantFiles
		return nil
	}
}

// WithAllowedMimeTypes overrides the upload MIME-type allow-list.
func WithAllowedMimeTypes(types []string) Option {
	return func(c *ServerConfig) error {
		if len(types) == 0 {
			return fmt.Errorf("allowed MIME-type list cannot be empty")
		}
		c.AllowedMimeTypes = types
		return nil
	}
}

// WithThumbnailSizes overrides the thumbnail ladder.
func WithThumbnailSizes(sizes []filevault.ThumbnailSize) Option {
	return func(c *ServerConfig) error {
		if len(sizes) == 0 {
			return fmt.Errorf("thumbnail ladder cannot be empty")
		}
		c.ThumbnailSizes = sizes
		return nil
	}
}

// WithWorkerConcurrency sets how many jobs run at once.
func WithWorkerConcurrency(n int) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("worker concurrency must be positive")
		}
		c.WorkerConcurrency = n
		return nil
	}
}

// WithDeleteGracePeriod sets the delay before physical deletion.
func WithDeleteGracePeriod(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d <= 0 {
			return fmt.Errorf("delete grace period must be positive")
		}
		c.DeleteGracePeriod = d
		return nil
	}
}

package config

import (
	"github.com/markdave123-py/docuiq/internal/core"
)

// Validate fails fast on settings the process cannot run without.
// Model credentials are only needed where embedding or generation runs.
func (c *Config) Validate(needModels bool) error {
	if needModels && c.AIAPIKey == "" {
		return core.Configuration("GEMINI_API_KEY not set")
	}
	switch c.StorageBackend {
	case "local":
		if c.LocalStorageDir == "" {
			return core.Configuration("LOCAL_STORAGE_DIR not set")
		}
	case "s3":
		if c.AwsAccessKey == "" || c.AwsSecretKey == "" {
			return core.Configuration("AWS credentials not set")
		}
		if c.BucketName == "" {
			return core.Configuration("BUCKET_NAME not set")
		}
	default:
		return core.Configuration("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.VectorBackend {
	case "sqlite", "postgres":
	default:
		return core.Configuration("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	if c.VectorBackend == "postgres" && c.UsesMemoryDatabase() {
		return core.Configuration("VECTOR_BACKEND=postgres needs a real DATABASE_URL")
	}
	switch c.QueueBackend {
	case "memory", "redis":
	default:
		return core.Configuration("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	if c.Workers <= 0 {
		return core.Configuration("WORKERS must be positive, got %d", c.Workers)
	}
	return nil
}

// UsesMemoryDatabase reports whether content items and jobs live in process memory.
func (c *Config) UsesMemoryDatabase() bool {
	return c.DatabaseURL == "" || c.DatabaseURL == "memory"
}

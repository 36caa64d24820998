package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"photo-ingest-go/internal/config"
)

// New returns the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig, log *logrus.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return NewLocalBackend(cfg.Local.Root, cfg.Local.URLPrefix, log)
	case config.BackendS3:
		return NewS3Backend(ctx, S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
			ACL:             cfg.S3.ACL,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, log)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}

package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// Open builds the content source selected by cfg.Driver.
func Open(ctx context.Context, cfg domain.StorageConfig, fs afero.Fs, logger *logrus.Logger) (domain.ContentSource, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "local":
		return NewLocal(fs, cfg.RootDir), nil
	case "minio":
		m, err := NewMinIO(cfg, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "s3":
		s, err := NewS3(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "http":
		h, err := NewHTTP(cfg, logger)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// OpenArchive builds the archiver selected by cfg.ArchiveDriver. It
// returns nil when archiving is disabled.
func OpenArchive(ctx context.Context, cfg domain.StorageConfig, fs afero.Fs, logger *logrus.Logger) (domain.ObjectArchiver, error) {
	switch strings.ToLower(cfg.ArchiveDriver) {
	case "":
		return nil, nil
	case "local":
		if cfg.ArchiveDir == "" {
			return nil, fmt.Errorf("archive_dir required for local archive")
		}
		return NewLocal(fs, cfg.ArchiveDir), nil
	case "minio":
		m, err := NewMinIO(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case "s3":
		s, err := NewS3(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.ArchiveDriver)
	}
}

var (
	_ domain.ContentSource  = (*Local)(nil)
	_ domain.ObjectArchiver = (*Local)(nil)
	_ domain.ContentSource  = (*MinIO)(nil)
	_ domain.ObjectArchiver = (*MinIO)(nil)
	_ domain.ContentSource  = (*S3)(nil)
	_ domain.ObjectArchiver = (*S3)(nil)
	_ domain.ContentSource  = (*HTTP)(nil)
)

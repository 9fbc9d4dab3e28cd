package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/freelance-manager/freelance-api/internal/filestore"
)

// OpenFileStore builds the configured file store backend. The returned close
// func is never nil.
func OpenFileStore(ctx context.Context, cfg *Config, logger *slog.Logger) (filestore.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.FileStoreBackend {
	case FileStoreGCS:
		store, err := filestore.NewGCS(ctx, cfg.GCSBucket, cfg.GCSPrefix, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, noop, fmt.Errorf("open gcs file store: %w", err)
		}
		logger.Info("file store ready", slog.String("backend", FileStoreGCS), slog.String("bucket", cfg.GCSBucket))
		return store, store.Close, nil
	default:
		store, err := filestore.NewLocal(cfg.FilesPath)
		if err != nil {
			return nil, noop, fmt.Errorf("open local file store: %w", err)
		}
		if err := store.EnsureLayout(); err != nil {
			return nil, noop, fmt.Errorf("prepare file store layout: %w", err)
		}
		logger.Info("file store ready", slog.String("backend", FileStoreLocal), slog.String("root", store.Root()))
		return store, noop, nil
	}
}

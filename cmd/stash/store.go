package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eteran/stash/internal/config"
	"github.com/eteran/stash/pkg/storage"
	"github.com/eteran/stash/pkg/storage/badger"
	"github.com/eteran/stash/pkg/storage/s3"
	"github.com/eteran/stash/pkg/storage/sqlite"
)

// openStore opens the backend selected by cfg.Type.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewMemoryStore(), nil

	case "sqlite":
		path, err := filepath.Abs(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sqlite path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.Open(ctx, path)

	case "badger":
		dir, err := filepath.Abs(cfg.Badger.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve badger directory: %w", err)
		}
		return badger.Open(badger.Config{Dir: dir})

	case "s3":
		return s3.Open(ctx, s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
	}

	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

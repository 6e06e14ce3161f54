package blobstore

import (
	"context"
	"fmt"

	"stacc-go/internal/config"
)

// NewBlobStoreFromConfig creates a Store based on the blob store config type.
// The "database" type has no byte store of its own; callers read sizes from
// the blobs table instead and get a nil Store here.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobStoreConfig) (Store, error) {
	switch cfg.Type {
	case "database", "":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem blob store requires root to be set")
		}
		store, err := NewFileSystemStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}

package blobstore

import (
	"context"
	"io"

	"stacc-go/internal/stacc"
)

// Store holds blob bytes and reports their sizes. All operations stream
// through io.Reader/io.Writer so large uploads are never held in memory.
type Store interface {
	stacc.BlobStore

	// Put stores size bytes read from r under blobID.
	// Storing the same blobID again replaces the content.
	Put(ctx context.Context, blobID string, r io.Reader, size int64) error

	// Get writes the blob's content to w.
	Get(ctx context.Context, blobID string, w io.Writer) error

	// Delete removes a blob. Missing blobs are not an error.
	Delete(ctx context.Context, blobID string) error

	// ValidateSetup verifies that the store is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

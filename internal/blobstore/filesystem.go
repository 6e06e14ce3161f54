package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemStore stores blob content as plain files:
//
//	<root>/
//	  blobs/
//	    <blobID>
type FileSystemStore struct {
	root    string
	blobDir string
}

// NewFileSystemStore creates a store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	blobDir := filepath.Join(root, "blobs")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileSystemStore{root: root, blobDir: blobDir}, nil
}

func (s *FileSystemStore) Put(_ context.Context, blobID string, r io.Reader, size int64) error {
	path, err := s.pathFor(blobID)
	if err != nil {
		return err
	}
	return writeFile(path, r, size)
}

func (s *FileSystemStore) Get(_ context.Context, blobID string, w io.Writer) error {
	path, err := s.pathFor(blobID)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blob not found: %s", blobID)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Delete(_ context.Context, blobID string) error {
	path, err := s.pathFor(blobID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing blob %s: %w", blobID, err)
	}
	return nil
}

// ByteSizes stats each blob file. Blobs without a file are left out of the result.
func (s *FileSystemStore) ByteSizes(_ context.Context, blobIDs []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(blobIDs))
	for _, id := range blobIDs {
		path, err := s.pathFor(id)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat blob %s: %w", id, err)
		}
		sizes[id] = info.Size()
	}
	return sizes, nil
}

// ValidateSetup verifies that the blob directories are accessible.
func (s *FileSystemStore) ValidateSetup(context.Context) error {
	for _, dir := range []string{s.root, s.blobDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("blob store directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("blob store path is not a directory: %s", dir)
		}
	}
	return nil
}

func (s *FileSystemStore) pathFor(blobID string) (string, error) {
	if blobID == "" || blobID == "." || blobID == ".." || strings.ContainsAny(blobID, `/\`) {
		return "", fmt.Errorf("invalid blob id %q", blobID)
	}
	return filepath.Join(s.blobDir, blobID), nil
}

// writeFile writes r to destPath through a temp file and rename.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Same directory so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ Store = (*FileSystemStore)(nil)

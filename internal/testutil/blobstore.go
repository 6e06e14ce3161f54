package testutil

import (
	"context"
	"errors"
)

// ErrBlobStoreDown is returned by FailingBlobStore.
var ErrBlobStoreDown = errors.New("blob store unavailable")

// FailingBlobStore fails every size lookup.
type FailingBlobStore struct{}

func (FailingBlobStore) ByteSizes(context.Context, []string) (map[string]int64, error) {
	return nil, ErrBlobStoreDown
}

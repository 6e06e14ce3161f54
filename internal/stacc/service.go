package stacc

import (
	"context"
	"fmt"
)

// DefaultBatchSize is how many record ids reconciliation loads per query.
const DefaultBatchSize = 1000

// StaccService is the orchestration layer for storage accounting: it appends
// ledger entries, folds them into snapshots, tracks attachment lifecycle
// changes, and reconciles the ledger against real attachments.
type StaccService struct {
	database  Database
	catalog   Catalog
	blobs     BlobStore
	scheduler Scheduler
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	batchSize int

	reconcileLocks keyedLocks
}

// NewStaccService creates a new StaccService with the provided dependencies.
// A nil scheduler means nothing is scheduled after appends.
func NewStaccService(database Database, catalog Catalog, blobs BlobStore, scheduler Scheduler, logger Logger, clock Clock, idgen IDGenerator) *StaccService {
	if scheduler == nil {
		scheduler = NopScheduler{}
	}
	return &StaccService{
		database:  database,
		catalog:   catalog,
		blobs:     blobs,
		scheduler: scheduler,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		batchSize: DefaultBatchSize,
	}
}

// SetBatchSize changes how many record ids reconciliation loads at a time.
// Values below 1 restore the default.
func (s *StaccService) SetBatchSize(n int) {
	if n < 1 {
		n = DefaultBatchSize
	}
	s.batchSize = n
}

// resolveOwner returns ErrOwnerNotFound when the owner no longer exists.
func (s *StaccService) resolveOwner(ctx context.Context, owner Owner) (*OwnerInfo, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	info, err := s.catalog.ResolveOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", owner, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrOwnerNotFound, owner)
	}
	return info, nil
}

// blobBytes sums the sizes of the given blobs. Unknown blobs count as zero.
func (s *StaccService) blobBytes(ctx context.Context, blobIDs []string) (int64, error) {
	if len(blobIDs) == 0 {
		return 0, nil
	}
	sizes, err := s.blobs.ByteSizes(ctx, blobIDs)
	if err != nil {
		return 0, fmt.Errorf("reading blob sizes: %w", err)
	}
	var total int64
	for _, id := range blobIDs {
		total += sizes[id]
	}
	return total, nil
}

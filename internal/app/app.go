package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stacc-go/internal/api"
	"stacc-go/internal/blobstore"
	"stacc-go/internal/config"
	"stacc-go/internal/database"
	"stacc-go/internal/export"
	"stacc-go/internal/jobs"
	"stacc-go/internal/stacc"
)

// drainTimeout bounds how long Close waits for queued materializations.
const drainTimeout = 30 * time.Second

// StaccApp is the application layer between the CLI and StaccService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string arguments, and manages the DB lifecycle on Close.
type StaccApp struct {
	cfg      *config.Config
	db       *database.SQLDatabase
	store    blobstore.Store // nil when sizes come from the blobs table
	queue    *jobs.Queue
	registry *prometheus.Registry
	service  *stacc.StaccService
	op       *Operation
	logger   stacc.Logger
	logFile  *os.File
	cancel   context.CancelFunc
}

// NewStaccApp creates a fully wired StaccApp from the given config.
// operation names the CLI command being run (e.g. "Attach", "Reconcile").
// Job workers start immediately; the caller must call Close when done.
func NewStaccApp(cfg *config.Config, operation string) (*StaccApp, error) {
	op := NewOperation(operation, cfg.ActorID)

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := newStaccApp(cfg, op, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newStaccApp(cfg *config.Config, op *Operation, logger stacc.Logger) (*StaccApp, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	fail := func(err error) (*StaccApp, error) {
		cancel()
		db.Close()
		return nil, err
	}

	store, err := blobstore.NewBlobStoreFromConfig(ctx, cfg.BlobStore)
	if err != nil {
		return fail(fmt.Errorf("creating blob store: %w", err))
	}
	var blobs stacc.BlobStore = db
	if store != nil {
		blobs = store
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queue, err := jobs.NewQueue(logger, jobs.Options{
		Workers:         cfg.Jobs.Workers,
		RetryMaxElapsed: time.Duration(cfg.Jobs.RetryMaxElapsedSeconds) * time.Second,
		Registerer:      registry,
	})
	if err != nil {
		return fail(fmt.Errorf("creating job queue: %w", err))
	}

	svc := stacc.NewStaccService(db, db, blobs, queue, logger, stacc.RealClock{}, stacc.UUIDv7Generator{})
	svc.SetBatchSize(cfg.Jobs.BatchSize)

	if err := queue.Start(ctx, svc); err != nil {
		return fail(fmt.Errorf("starting job workers: %w", err))
	}

	logger.Debug("operation started", "operation", op.Name, "actor", op.ActorID)
	return &StaccApp{
		cfg:      cfg,
		db:       db,
		store:    store,
		queue:    queue,
		registry: registry,
		service:  svc,
		op:       op,
		logger:   logger,
		cancel:   cancel,
	}, nil
}

// Operation returns the operation this app instance runs under.
func (a *StaccApp) Operation() *Operation { return a.op }

// Usage returns the usage report for an owner given as "kind:id".
func (a *StaccApp) Usage(ctx context.Context, rawOwner string, exact bool) (*stacc.UsageReport, error) {
	owner, err := stacc.ParseOwner(rawOwner)
	if err != nil {
		return nil, err
	}
	return a.service.Usage(ctx, owner, exact)
}

// PendingEntries lists the owner's entries not yet in its snapshot.
func (a *StaccApp) PendingEntries(ctx context.Context, rawOwner string, limit int) ([]*stacc.Entry, error) {
	owner, err := stacc.ParseOwner(rawOwner)
	if err != nil {
		return nil, err
	}
	return a.service.PendingEntries(ctx, owner, limit)
}

// Materialize folds pending entries into the owner's snapshot now.
func (a *StaccApp) Materialize(ctx context.Context, rawOwner string) error {
	owner, err := stacc.ParseOwner(rawOwner)
	if err != nil {
		return err
	}
	return a.service.Materialize(ctx, owner)
}

// MaterializeAll materializes every container and tenant. Returns the number of owners processed.
func (a *StaccApp) MaterializeAll(ctx context.Context) (int, error) {
	owners, err := a.allOwners(ctx)
	if err != nil {
		return 0, err
	}
	for _, owner := range owners {
		if err := a.service.Materialize(ctx, owner); err != nil {
			return 0, err
		}
	}
	return len(owners), nil
}

// Reconcile runs a reconciliation for one owner synchronously.
func (a *StaccApp) Reconcile(ctx context.Context, rawOwner string) (*stacc.ReconcileResult, error) {
	owner, err := stacc.ParseOwner(rawOwner)
	if err != nil {
		return nil, err
	}
	return a.service.Reconcile(ctx, owner)
}

// ReconcileAll reconciles every tenant. Results list each tenant's
// containers before the tenant.
func (a *StaccApp) ReconcileAll(ctx context.Context) ([]*stacc.ReconcileResult, error) {
	tenants, err := a.db.TenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	var results []*stacc.ReconcileResult
	for _, t := range tenants {
		r, err := a.service.Reconcile(ctx, stacc.TenantOwner(t))
		if err != nil {
			return results, err
		}
		results = append(results, r.Containers...)
		results = append(results, r)
	}
	return results, nil
}

// allOwners lists containers before their tenant.
func (a *StaccApp) allOwners(ctx context.Context) ([]stacc.Owner, error) {
	tenants, err := a.db.TenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	var owners []stacc.Owner
	for _, t := range tenants {
		containers, err := a.db.ContainerIDs(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("listing containers of tenant %s: %w", t, err)
		}
		for _, c := range containers {
			owners = append(owners, stacc.ContainerOwner(c))
		}
		owners = append(owners, stacc.TenantOwner(t))
	}
	return owners, nil
}

// Backfill seeds the ledger from existing attachments.
func (a *StaccApp) Backfill(ctx context.Context) (*stacc.BackfillResult, error) {
	return a.service.Backfill(ctx, a.op.Audit())
}

// Attach uploads the file at path and attaches it to target ("card:ID",
// "comment:ID", "container:ID" or "rich_text:ID").
func (a *StaccApp) Attach(ctx context.Context, rawTarget, path, name string) (*stacc.Attachment, *stacc.Entry, error) {
	target, err := stacc.ParseAttachable(rawTarget)
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		name = filepath.Base(path)
	}

	blob, err := a.uploadBlob(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	att := &stacc.Attachment{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Attachable: target,
		Name:       name,
		BlobID:     blob.ID,
	}
	entry, err := a.service.Attach(ctx, a.op.Audit(), att)
	if err != nil {
		return nil, nil, err
	}
	return att, entry, nil
}

// uploadBlob stores the file's bytes in the configured blob store, if any,
// and records the blob row.
func (a *StaccApp) uploadBlob(ctx context.Context, path string) (*stacc.Blob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	blob := &stacc.Blob{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ByteSize:    info.Size(),
		ContentType: "application/octet-stream",
	}
	if a.store != nil {
		if err := a.store.Put(ctx, blob.ID, f, info.Size()); err != nil {
			return nil, fmt.Errorf("uploading %s: %w", path, err)
		}
	}
	if err := a.db.CreateBlob(ctx, blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// Detach removes an attachment by id.
func (a *StaccApp) Detach(ctx context.Context, attachmentID string) (*stacc.Entry, error) {
	return a.service.Detach(ctx, a.op.Audit(), attachmentID)
}

// Move moves a card to another container of the same tenant.
func (a *StaccApp) Move(ctx context.Context, rawRecord, containerID string) ([]*stacc.Entry, error) {
	ref, err := stacc.ParseRecordRef(rawRecord)
	if err != nil {
		return nil, err
	}
	return a.service.MoveRecord(ctx, a.op.Audit(), ref, containerID)
}

// Destroy deletes a record with everything attached within it. A tenant
// owner ("tenant:ID") destroys the whole tenant.
func (a *StaccApp) Destroy(ctx context.Context, rawRecord string) ([]*stacc.Entry, error) {
	if owner, err := stacc.ParseOwner(rawRecord); err == nil && owner.Kind == stacc.OwnerTenant {
		return nil, a.service.DestroyTenant(ctx, owner.ID)
	}
	ref, err := stacc.ParseRecordRef(rawRecord)
	if err != nil {
		return nil, err
	}
	return a.service.DestroyRecord(ctx, a.op.Audit(), ref)
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.Must(uuid.NewV7()).String()
}

// CreateTenant creates a tenant. An empty id is generated. Returns the id used.
func (a *StaccApp) CreateTenant(ctx context.Context, id, name string) (string, error) {
	id = newID(id)
	return id, a.db.CreateTenant(ctx, id, name)
}

func (a *StaccApp) CreateContainer(ctx context.Context, id, tenantID, name string) (string, error) {
	id = newID(id)
	return id, a.db.CreateContainer(ctx, id, tenantID, name)
}

func (a *StaccApp) CreateCard(ctx context.Context, id, tenantID, containerID, title string) (string, error) {
	id = newID(id)
	return id, a.db.CreateCard(ctx, id, tenantID, containerID, title)
}

func (a *StaccApp) CreateComment(ctx context.Context, id, cardID string) (string, error) {
	id = newID(id)
	return id, a.db.CreateComment(ctx, id, cardID)
}

func (a *StaccApp) CreateRichText(ctx context.Context, id, rawRecord, name, body string) (string, error) {
	ref, err := stacc.ParseRecordRef(rawRecord)
	if err != nil {
		return "", err
	}
	id = newID(id)
	return id, a.db.CreateRichText(ctx, id, ref, name, body)
}

// Export writes the encrypted ledger to w. Recipients come from the
// configured recipients file plus any literal values.
func (a *StaccApp) Export(ctx context.Context, w io.Writer, recipientValues []string, useFile bool) (*export.Result, error) {
	path := ""
	if useFile {
		path = a.cfg.Export.RecipientsFile
	}
	recipients, err := export.LoadRecipients(path, recipientValues)
	if err != nil {
		return nil, err
	}
	result, err := export.Export(ctx, w, a.db, recipients, export.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	a.logger.Info("ledger exported", "entries", result.Entries, "last_entry", result.LastEntryID)
	return result, nil
}

// Serve runs the HTTP API and the reconcile schedule until ctx is canceled.
func (a *StaccApp) Serve(ctx context.Context) error {
	schedule, err := jobs.NewSchedule(ctx, a.cfg.Jobs.ReconcileSchedule, a.service, a.logger)
	if err != nil {
		return err
	}
	schedule.Start()
	defer schedule.Stop()

	server := api.NewServer(a.service, a.logger, a.registry)
	return server.Serve(ctx, a.cfg.Server.Listen)
}

// Close waits for queued work, stops the workers and closes the database.
func (a *StaccApp) Close() error {
	var firstErr error

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := a.queue.Drain(drainCtx); err != nil {
		firstErr = fmt.Errorf("waiting for queued jobs: %w", err)
	}
	cancel()
	a.queue.Stop()
	a.cancel()

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status)
	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// MigrateDatabase applies pending migrations without building the full app.
func MigrateDatabase(cfg *config.Config) (uint, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return 0, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return 0, err
	}
	version, _, err := db.SchemaVersion()
	return version, err
}

// DatabaseStatus reports the schema version and whether migrations are pending.
func DatabaseStatus(cfg *config.Config) (version uint, upToDate bool, err error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return 0, false, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	version, _, err = db.SchemaVersion()
	if err != nil {
		return 0, false, err
	}
	return version, db.CheckMigrations() == nil, nil
}

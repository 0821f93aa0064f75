package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server/objectstore"
	"github.com/dmitrijs2005/bhopmaps/internal/server/repositories/repomanager"
)

// Report is the outcome of one reconciliation pass.
type Report struct {
	// OrphanObjects are stored packages with no metadata record.
	OrphanObjects []string `json:"orphanObjects"`
	// DanglingRecords are object keys of records whose package is gone.
	DanglingRecords []string `json:"danglingRecords"`
	// Recent are unrecorded packages younger than the grace window; they may
	// belong to an upload still in flight and are left alone.
	Recent []string `json:"recent"`
	// Deleted lists the orphans removed by this pass.
	Deleted []string `json:"deleted"`
}

// Reconciler compares stored map packages with metadata records.
type Reconciler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       objectstore.Store
	grace       time.Duration
	now         func() time.Time
	logger      logging.Logger
}

// NewReconciler builds a Reconciler. Unrecorded objects modified within
// grace of the scan are never treated as orphans.
func NewReconciler(db *sql.DB, m repomanager.RepositoryManager, store objectstore.Store, grace time.Duration, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: m,
		store:       store,
		grace:       grace,
		now:         time.Now,
		logger:      logger.With("module", "reconciler"),
	}
}

// Reconcile reports orphan objects and dangling records. Unless dryRun is
// set, orphan objects are deleted; dangling records are only reported.
func (r *Reconciler) Reconcile(ctx context.Context, dryRun bool) (*Report, error) {
	objects, err := r.store.ListObjects(ctx, common.MapKeyPrefix)
	if err != nil {
		return nil, err
	}
	recorded, err := r.repomanager.Maps(r.db).ListObjectKeys(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-r.grace)
	stored := make(map[string]time.Time, len(objects))
	for _, o := range objects {
		stored[o.Key] = o.LastModified
	}
	known := make(map[string]struct{}, len(recorded))
	for _, k := range recorded {
		known[k] = struct{}{}
	}

	report := &Report{}
	for k, modified := range stored {
		if _, ok := known[k]; ok {
			continue
		}
		if modified.After(cutoff) {
			report.Recent = append(report.Recent, k)
			continue
		}
		report.OrphanObjects = append(report.OrphanObjects, k)
	}
	for k := range known {
		if _, ok := stored[k]; !ok {
			report.DanglingRecords = append(report.DanglingRecords, k)
		}
	}
	slices.Sort(report.OrphanObjects)
	slices.Sort(report.DanglingRecords)
	slices.Sort(report.Recent)

	r.logger.Info(ctx, "reconciliation scanned",
		"objects", len(objects), "records", len(recorded),
		"orphans", len(report.OrphanObjects), "dangling", len(report.DanglingRecords),
		"recent", len(report.Recent))

	if dryRun {
		return report, nil
	}

	repo := r.repomanager.Maps(r.db)
	var errs []error
	for _, k := range report.OrphanObjects {
		// The record may have been committed since the key list was read.
		if _, err := repo.GetByID(ctx, MapIDFromKey(k)); !errors.Is(err, common.ErrorNotFound) {
			if err != nil {
				errs = append(errs, fmt.Errorf("recheck %s: %w", k, err))
				continue
			}
			r.logger.Info(ctx, "orphan gained a record, keeping it", "key", k)
			continue
		}
		err := r.store.DeleteObject(ctx, k)
		if err != nil && !errors.Is(err, common.ErrObjectNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
			continue
		}
		report.Deleted = append(report.Deleted, k)
	}
	return report, errors.Join(errs...)
}

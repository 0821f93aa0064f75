package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
)

func newReconcileEnv(t *testing.T) (*env, *Reconciler) {
	t.Helper()
	e := newEnv(t)
	r := NewReconciler(e.db, &fakeRepoManager{u: e.users, m: e.maps}, e.store, time.Hour, logging.Nop())
	return e, r
}

func TestReconcile_DryRunReportsOnly(t *testing.T) {
	e, r := newReconcileEnv(t)
	_, token := e.register(t, "alice")
	kept := e.upload(t, token, "Kept map")

	e.store.objects["maps/orphan.zip"] = []byte("x")
	e.store.objects["images/not-scanned.png"] = []byte("x")
	e.maps.put(&models.Map{ID: "dangling", ObjectKey: "maps/dangling.zip", AuthorID: "u"})

	report, err := r.Reconcile(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"maps/orphan.zip"}, report.OrphanObjects)
	assert.Equal(t, []string{"maps/dangling.zip"}, report.DanglingRecords)
	assert.Empty(t, report.Deleted)
	assert.True(t, e.store.has("maps/orphan.zip"))
	assert.True(t, e.store.has(kept.ObjectKey))
}

func TestReconcile_DeletesOrphans(t *testing.T) {
	e, r := newReconcileEnv(t)
	_, token := e.register(t, "alice")
	kept := e.upload(t, token, "Kept map")
	e.store.objects["maps/a.zip"] = []byte("x")
	e.store.objects["maps/b.zip"] = []byte("x")

	report, err := r.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"maps/a.zip", "maps/b.zip"}, report.Deleted)
	assert.False(t, e.store.has("maps/a.zip"))
	assert.True(t, e.store.has(kept.ObjectKey))

	again, err := r.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, again.OrphanObjects)
}

func TestReconcile_DeleteFailureIsReported(t *testing.T) {
	e, r := newReconcileEnv(t)
	e.store.objects["maps/a.zip"] = []byte("x")
	e.store.deleteErr = common.ErrStoreUnavailable

	report, err := r.Reconcile(context.Background(), false)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	require.NotNil(t, report)
	assert.Equal(t, []string{"maps/a.zip"}, report.OrphanObjects)
	assert.Empty(t, report.Deleted)
}

func TestReconcile_UploadInFlightSurvives(t *testing.T) {
	e, r := newReconcileEnv(t)
	_, token := e.register(t, "alice")

	var (
		during    *Report
		duringErr error
	)
	e.maps.beforeCreate = func() {
		during, duringErr = r.Reconcile(context.Background(), false)
	}

	m := e.upload(t, token, "Dust2Remake")

	require.NoError(t, duringErr)
	require.NotNil(t, during)
	assert.Empty(t, during.OrphanObjects)
	assert.Empty(t, during.Deleted)
	assert.Equal(t, []string{m.ObjectKey}, during.Recent)

	url, _, err := e.mapSvc.Download(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Contains(t, url, m.ObjectKey)
}

func TestReconcile_GraceWindow(t *testing.T) {
	e, r := newReconcileEnv(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	e.store.objects["maps/old.zip"] = []byte("x")
	e.store.modified["maps/old.zip"] = now.Add(-2 * time.Hour)
	e.store.objects["maps/fresh.zip"] = []byte("x")
	e.store.modified["maps/fresh.zip"] = now.Add(-10 * time.Minute)

	report, err := r.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"maps/old.zip"}, report.Deleted)
	assert.Equal(t, []string{"maps/fresh.zip"}, report.Recent)
	assert.True(t, e.store.has("maps/fresh.zip"))
	assert.False(t, e.store.has("maps/old.zip"))
}

func TestReconcile_RecordCommittedAfterScanIsKept(t *testing.T) {
	e, r := newReconcileEnv(t)
	_, token := e.register(t, "alice")
	m := e.upload(t, token, "Dust2Remake")
	e.store.modified[m.ObjectKey] = time.Time{}
	e.maps.staleKeys = true

	report, err := r.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{m.ObjectKey}, report.OrphanObjects)
	assert.Empty(t, report.Deleted)
	assert.True(t, e.store.has(m.ObjectKey))
}

func TestReconcile_RecheckFailureKeepsObject(t *testing.T) {
	e, r := newReconcileEnv(t)
	e.store.objects["maps/a.zip"] = []byte("x")
	e.maps.getErr = errors.New("db down")

	report, err := r.Reconcile(context.Background(), false)
	assert.ErrorContains(t, err, "recheck maps/a.zip")
	assert.Empty(t, report.Deleted)
	assert.True(t, e.store.has("maps/a.zip"))
}

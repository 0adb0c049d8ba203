package reconcile

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/model"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestReconcileCreatesMissingEnrollments(t *testing.T) {
	store := enrollment.NewFakeStore()
	store.Portals = []model.Portal{
		{ID: "p1", Name: "One", IsActive: true},
		{ID: "p2", Name: "Two", IsActive: true},
		{ID: "p3", Name: "Three", IsActive: true},
	}
	existing, err := store.Upsert(context.Background(), "u1", "p1",
		model.Permission{AllowedModules: []string{"m1"}}, "admin")
	require.NoError(t, err)

	report, err := New(store, testLogger()).Reconcile(context.Background(), "u1")
	require.NoError(t, err)

	// 3 active portals, 1 enrollment: exactly 2 created, existing untouched.
	assert.Equal(t, []string{"p2", "p3"}, report.Created)
	assert.Empty(t, report.FlaggedOrphans)
	assert.Empty(t, report.FlaggedDuplicates)

	after, err := store.Get(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, existing.Version, after.Version)
	assert.Equal(t, []string{"m1"}, after.Permissions.AllowedModules)

	// Defaults are full access with empty sets.
	created, err := store.Get(context.Background(), "u1", "p2")
	require.NoError(t, err)
	assert.True(t, created.Permissions.AccessAllModules)
	assert.Empty(t, created.Permissions.AllowedModules)
	assert.Equal(t, "reconciler", created.EnrolledBy)
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := enrollment.NewFakeStore()
	store.Portals = []model.Portal{{ID: "p1", IsActive: true}}
	r := New(store, testLogger())

	first, err := r.Reconcile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, first.Created)

	second, err := r.Reconcile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, second.Created)
}

func TestReconcileSkipsInactivePortals(t *testing.T) {
	store := enrollment.NewFakeStore()
	store.Portals = []model.Portal{
		{ID: "p1", IsActive: true},
		{ID: "p2", IsActive: false},
	}

	report, err := New(store, testLogger()).Reconcile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, report.Created)
}

func TestReconcileFlagsOrphans(t *testing.T) {
	store := enrollment.NewFakeStore()
	store.Portals = []model.Portal{
		{ID: "p1", IsActive: true},
		{ID: "dead", IsActive: false},
	}
	store.Seed(model.Enrollment{ID: "e1", UserID: "u1", PortalID: "gone", IsActive: true})
	store.Seed(model.Enrollment{ID: "e2", UserID: "u1", PortalID: "dead", IsActive: true})
	store.Seed(model.Enrollment{ID: "e3", UserID: "u1", PortalID: "p1", IsActive: true})

	report, err := New(store, testLogger()).Reconcile(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, report.FlaggedOrphans, 2)
	byPortal := map[string]string{}
	for _, o := range report.FlaggedOrphans {
		byPortal[o.PortalID] = o.Reason
	}
	assert.Equal(t, OrphanPortalMissing, byPortal["gone"])
	assert.Equal(t, OrphanPortalInactive, byPortal["dead"])

	// Orphans are reported, not deleted.
	_, err = store.Get(context.Background(), "u1", "gone")
	assert.NoError(t, err)
}

// duplicatingStore simulates a backend missing the unique index, so
// ListByUser returns two active rows for the same (user, portal) pair.
type duplicatingStore struct {
	*enrollment.FakeStore
	extra []model.Enrollment
}

func (d *duplicatingStore) ListByUser(ctx context.Context, userID string) ([]model.Enrollment, error) {
	rows, err := d.FakeStore.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(rows, d.extra...), nil
}

func TestReconcileFlagsDuplicates(t *testing.T) {
	fake := enrollment.NewFakeStore()
	fake.Portals = []model.Portal{{ID: "p1", IsActive: true}}
	fake.Seed(model.Enrollment{ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true})
	store := &duplicatingStore{
		FakeStore: fake,
		extra:     []model.Enrollment{{ID: "e0", UserID: "u1", PortalID: "p1", IsActive: true}},
	}

	report, err := New(store, testLogger()).Reconcile(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, report.FlaggedDuplicates, 1)
	dup := report.FlaggedDuplicates[0]
	assert.Equal(t, "p1", dup.PortalID)
	assert.Equal(t, []string{"e0", "e1"}, dup.EnrollmentIDs)
	// A duplicated pair is still enrolled: nothing new is created.
	assert.Empty(t, report.Created)
}

func TestReconcileSurfacesStoreFailure(t *testing.T) {
	store := enrollment.NewFakeStore()
	store.Err = assert.AnError

	_, err := New(store, testLogger()).Reconcile(context.Background(), "u1")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestReconcileAllSweepsEnrolledUsers(t *testing.T) {
	store := enrollment.NewFakeStore()
	store.Portals = []model.Portal{
		{ID: "p1", IsActive: true},
		{ID: "p2", IsActive: true},
	}
	_, err := store.Upsert(context.Background(), "alice", "p1", model.DefaultPermission(), "admin")
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), "bob", "p2", model.DefaultPermission(), "admin")
	require.NoError(t, err)

	reports, err := New(store, testLogger()).ReconcileAll(context.Background())
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, "alice", reports[0].UserID)
	assert.Equal(t, []string{"p2"}, reports[0].Created)
	assert.Equal(t, "bob", reports[1].UserID)
	assert.Equal(t, []string{"p1"}, reports[1].Created)
}

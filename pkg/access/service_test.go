package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberhub/accessd/pkg/access"
	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/model"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func strPtr(s string) *string { return &s }

// seedCatalog builds the running example: portal p1 with
// m1 -> (c1, c2), m2 -> (c5, child m3 -> c3), plus a second portal p2
// with a single module m9 -> c9.
func seedCatalog(store *enrollment.FakeStore) {
	store.Portals = []model.Portal{
		{ID: "p1", Name: "Springfield Elementary", IsActive: true},
		{ID: "p2", Name: "Shelbyville Middle", IsActive: true},
		{ID: "p3", Name: "Closed Annex", IsActive: false},
	}
	store.Modules = []model.Module{
		{ID: "m1", PortalID: "p1", OrderIndex: 0},
		{ID: "m2", PortalID: "p1", OrderIndex: 1},
		{ID: "m3", PortalID: "p1", ParentModuleID: strPtr("m2"), OrderIndex: 0},
		{ID: "m9", PortalID: "p2", OrderIndex: 0},
	}
	store.Contents = []model.Content{
		{ID: "c1", ModuleID: "m1"},
		{ID: "c2", ModuleID: "m1"},
		{ID: "c5", ModuleID: "m2"},
		{ID: "c3", ModuleID: "m3"},
		{ID: "c9", ModuleID: "m9"},
	}
}

func newService(t *testing.T, store *enrollment.FakeStore) *access.Service {
	t.Helper()
	svc, err := access.NewService(store, 64, testLogger())
	require.NoError(t, err)
	return svc
}

func findModule(views []*access.ModuleView, id string) *access.ModuleView {
	for _, v := range views {
		if v.Module.ID == id {
			return v
		}
		if found := findModule(v.Children, id); found != nil {
			return found
		}
	}
	return nil
}

func findContent(view *access.ModuleView, id string) *access.ContentView {
	for i := range view.Contents {
		if view.Contents[i].Content.ID == id {
			return &view.Contents[i]
		}
	}
	return nil
}

func TestSnapshotAppliesPermissions(t *testing.T) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.Permission{
			AllowedModules:  []string{"m1"},
			AllowedContents: []string{"c1", "c5"},
		},
		Version:    1,
		EnrolledAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	svc := newService(t, store)

	snap, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, snap.Portals, 2, "inactive portals stay out of the snapshot")

	p1 := snap.Portal("p1")
	require.NotNil(t, p1)
	assert.True(t, p1.Enrolled)
	require.NotNil(t, p1.Enrollment)
	assert.Equal(t, "e1", p1.Enrollment.ID)

	assert.True(t, findModule(p1.Modules, "m1").Allowed)
	assert.False(t, findModule(p1.Modules, "m2").Allowed)
	assert.False(t, findModule(p1.Modules, "m3").Allowed)

	m1 := findModule(p1.Modules, "m1")
	assert.True(t, findContent(m1, "c1").Allowed)
	assert.False(t, findContent(m1, "c2").Allowed)

	// c5 is granted even though its parent m2 is not: content grants
	// stand on their own.
	m2 := findModule(p1.Modules, "m2")
	assert.True(t, findContent(m2, "c5").Allowed)

	// No row for p2, so everything there is denied.
	p2 := snap.Portal("p2")
	require.NotNil(t, p2)
	assert.False(t, p2.Enrolled)
	assert.Nil(t, p2.Enrollment)
	assert.False(t, findModule(p2.Modules, "m9").Allowed)
}

func TestSnapshotInactiveEnrollmentDenies(t *testing.T) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: false,
		Permissions: model.DefaultPermission(),
	})
	svc := newService(t, store)

	snap, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	p1 := snap.Portal("p1")
	require.NotNil(t, p1)
	assert.False(t, p1.Enrolled)
	assert.False(t, findModule(p1.Modules, "m1").Allowed)
}

func TestSnapshotAccessAllModules(t *testing.T) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.DefaultPermission(),
	})
	svc := newService(t, store)

	snap, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	p1 := snap.Portal("p1")
	for _, id := range []string{"m1", "m2", "m3"} {
		assert.True(t, findModule(p1.Modules, id).Allowed, id)
	}
	assert.True(t, findContent(findModule(p1.Modules, "m3"), "c3").Allowed)
}

func TestSnapshotSurfacesCatalogAnomalies(t *testing.T) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Modules = append(store.Modules,
		model.Module{ID: "m7", PortalID: "p1", ParentModuleID: strPtr("gone")},
	)
	svc := newService(t, store)

	snap, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	p1 := snap.Portal("p1")
	require.Len(t, p1.Anomalies, 1)
	assert.Equal(t, "m7", p1.Anomalies[0].ModuleID)
	assert.Nil(t, findModule(p1.Modules, "m7"), "unreachable modules stay out of the view")
}

func TestPortalSnapshot(t *testing.T) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.DefaultPermission(),
	})
	svc := newService(t, store)

	view, err := svc.PortalSnapshot(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.True(t, view.Enrolled)

	_, err = svc.PortalSnapshot(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, enrollment.ErrNotFound)

	_, err = svc.PortalSnapshot(context.Background(), "u1", "p3")
	assert.ErrorIs(t, err, enrollment.ErrNotFound, "inactive portals are not served")
}

func TestSnapshotCacheAndInvalidation(t *testing.T) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.Permission{AllowedModules: []string{"m1"}},
	})
	svc := newService(t, store)

	snap, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, snap.Portal("p1").Enrolled)

	// Widen the grant behind the service's back. The cached view is
	// served until someone invalidates it.
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.DefaultPermission(),
	})
	snap, err = svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, findModule(snap.Portal("p1").Modules, "m2").Allowed)

	svc.Invalidate("u1", "p1")
	snap, err = svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, findModule(snap.Portal("p1").Modules, "m2").Allowed)
}

func TestInvalidateUserScopesToUser(t *testing.T) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.Permission{AllowedModules: []string{"m1"}},
	})
	svc := newService(t, store)

	_, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	_, err = svc.Snapshot(context.Background(), "u2")
	require.NoError(t, err)

	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.DefaultPermission(),
	})
	store.Seed(model.Enrollment{
		ID: "e2", UserID: "u2", PortalID: "p1", IsActive: true,
		Permissions: model.DefaultPermission(),
	})
	svc.InvalidateUser("u1")

	snap, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, findModule(snap.Portal("p1").Modules, "m2").Allowed)

	snap, err = svc.Snapshot(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, snap.Portal("p1").Enrolled, "u2's cached view survives")
}

func BenchmarkSnapshot(b *testing.B) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.Permission{AllowedModules: []string{"m1"}},
	})
	svc, err := access.NewService(store, 64, testLogger())
	if err != nil {
		b.Fatal(err)
	}

	b.Run("with cache", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = svc.Snapshot(context.Background(), "u1")
		}
	})

	b.Run("cold cache", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			svc.InvalidateUser("u1")
			_, _ = svc.Snapshot(context.Background(), "u1")
		}
	})
}

func TestSnapshotStoreFailure(t *testing.T) {
	store := enrollment.NewFakeStore()
	seedCatalog(store)
	store.Err = assert.AnError
	svc := newService(t, store)

	_, err := svc.Snapshot(context.Background(), "u1")
	assert.Error(t, err)
}

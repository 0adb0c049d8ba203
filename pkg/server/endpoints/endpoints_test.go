package endpoints_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberhub/accessd/pkg/access"
	"github.com/memberhub/accessd/pkg/audit"
	"github.com/memberhub/accessd/pkg/batch"
	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/feed"
	"github.com/memberhub/accessd/pkg/model"
	"github.com/memberhub/accessd/pkg/reconcile"
	"github.com/memberhub/accessd/pkg/server"
	"github.com/memberhub/accessd/pkg/server/endpoints"
)

func init() {
	audit.SetEnabled(false)
}

func testServer(t *testing.T) (*server.Server, *enrollment.FakeStore) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	store := enrollment.NewFakeStore()
	svc, err := access.NewService(store, 64, log)
	require.NoError(t, err)

	srv := server.NewServer(
		store,
		svc,
		batch.NewEditor(store, "api", log),
		reconcile.New(store, log),
		feed.NewNotifier(16, log),
		"localhost", "0",
		log,
	)
	endpoints.RegisterAll(srv)
	return srv, store
}

func doRequest(srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func seedPortal(store *enrollment.FakeStore) {
	store.Portals = []model.Portal{{ID: "p1", Name: "Springfield", IsActive: true}}
	store.Modules = []model.Module{
		{ID: "m1", PortalID: "p1", OrderIndex: 0},
		{ID: "m2", PortalID: "p1", OrderIndex: 1},
	}
	store.Contents = []model.Content{{ID: "c1", ModuleID: "m1"}}
}

func TestVisibilityEndpoint(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.Permission{AllowedModules: []string{"m1"}},
		EnrolledAt:  time.Now().UTC(),
	})

	rec := doRequest(srv, "GET", "/visibility/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap access.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.Portal("p1"))
	assert.True(t, snap.Portal("p1").Enrolled)

	rec = doRequest(srv, "GET", "/visibility/u1/portals/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, "GET", "/visibility/u1/portals/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrantAndRevokeEndpoints(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)

	rec := doRequest(srv, "POST", "/enrollments", endpoints.GrantRequest{
		UserID:     "u1",
		PortalID:   "p1",
		Permission: model.DefaultPermission(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var row model.Enrollment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))
	assert.Equal(t, "u1", row.UserID)
	assert.True(t, row.Permissions.AccessAllModules)

	rec = doRequest(srv, "DELETE", "/enrollments/u1/p1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(srv, "DELETE", "/enrollments/u1/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Writes must show up on the very next read even when no event stream
// is open to carry feed invalidations back into the view cache.
func TestVisibilityFreshAfterWrites(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)

	rec := doRequest(srv, "POST", "/enrollments", endpoints.GrantRequest{
		UserID:     "u1",
		PortalID:   "p1",
		Permission: model.DefaultPermission(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	view := fetchPortalView(t, srv, "u1", "p1")
	require.True(t, view.Enrolled)
	for _, m := range view.Modules {
		require.True(t, m.Allowed)
	}

	rec = doRequest(srv, "DELETE", "/enrollments/u1/p1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	view = fetchPortalView(t, srv, "u1", "p1")
	assert.False(t, view.Enrolled, "revoked user must not keep the cached grant")
	for _, m := range view.Modules {
		assert.False(t, m.Allowed, "module %s still allowed after revoke", m.Module.ID)
	}
}

func TestMembershipSyncRefreshesVisibility(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.Permission{AllowedModules: []string{"m1"}},
		EnrolledAt:  time.Now().UTC(),
	})

	// Warm the cache with the pre-sync verdicts.
	view := fetchPortalView(t, srv, "u1", "p1")
	require.False(t, moduleAllowed(view, "m2"))

	rec := doRequest(srv, "POST", "/modules/m2/membership", endpoints.NodeMembershipRequest{
		PortalID: "p1",
		UserIDs:  []string{"u1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	view = fetchPortalView(t, srv, "u1", "p1")
	assert.True(t, moduleAllowed(view, "m1"))
	assert.True(t, moduleAllowed(view, "m2"))
}

func fetchPortalView(t *testing.T, srv *server.Server, userID, portalID string) *access.PortalView {
	t.Helper()
	rec := doRequest(srv, "GET", "/visibility/"+userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap access.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	view := snap.Portal(portalID)
	require.NotNil(t, view)
	return view
}

func moduleAllowed(view *access.PortalView, moduleID string) bool {
	for _, m := range view.Modules {
		if m.Module.ID == moduleID {
			return m.Allowed
		}
	}
	return false
}

func TestGrantValidation(t *testing.T) {
	srv, _ := testServer(t)

	rec := doRequest(srv, "POST", "/enrollments", endpoints.GrantRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/enrollments", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	srv.Router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListEndpointsAndLimit(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)
	for i := 0; i < 5; i++ {
		store.Seed(model.Enrollment{
			ID: fmt.Sprintf("e%d", i), UserID: fmt.Sprintf("u%d", i), PortalID: "p1",
			IsActive: true, EnrolledAt: time.Now().UTC(),
		})
	}

	rec := doRequest(srv, "GET", "/enrollments/portal/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []model.Enrollment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 5)

	rec = doRequest(srv, "GET", "/enrollments/portal/p1?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)

	rec = doRequest(srv, "GET", "/enrollments/user/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)
}

func TestPortalMembershipEndpoint(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		EnrolledAt: time.Now().UTC(),
	})

	rec := doRequest(srv, "POST", "/portals/p1/membership", endpoints.PortalMembershipRequest{
		Grants: []batch.Grant{{UserID: "u2", Permission: model.DefaultPermission()}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res batch.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Applied, "one upsert for u2, one revoke for u1")

	_, err := store.Get(context.Background(), "u1", "p1")
	assert.ErrorIs(t, err, enrollment.ErrNotFound)
}

func TestModuleMembershipPartialFailure(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		EnrolledAt: time.Now().UTC(),
	})

	rec := doRequest(srv, "POST", "/modules/m1/membership", endpoints.NodeMembershipRequest{
		PortalID: "p1",
		UserIDs:  []string{"u1", "ghost"},
	})
	assert.Equal(t, http.StatusMultiStatus, rec.Code)

	var res batch.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Failed)

	rec = doRequest(srv, "POST", "/modules/m1/membership", endpoints.NodeMembershipRequest{
		UserIDs: []string{"u1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "portalId is required")
}

func TestReconcileEndpoint(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)

	rec := doRequest(srv, "POST", "/reconcile/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report reconcile.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []string{"p1"}, report.Created)

	row, err := store.Get(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.True(t, row.Permissions.AccessAllModules)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := doRequest(srv, "GET", "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
}

func TestEventsEndpointStreamsAndReleases(t *testing.T) {
	srv, store := testServer(t)
	seedPortal(store)
	store.Seed(model.Enrollment{
		ID: "e1", UserID: "u1", PortalID: "p1", IsActive: true,
		Permissions: model.DefaultPermission(), EnrolledAt: time.Now().UTC(),
	})

	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/events/u1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The initial pull produces the first frame.
	buf := make([]byte, 6)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, "data: ", string(buf))

	// Disconnecting must release the subscription.
	cancel()
	assert.Eventually(t, func() bool {
		return srv.Notifier.SubscriberCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

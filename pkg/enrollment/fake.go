package enrollment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memberhub/accessd/pkg/model"
)

// Ensure FakeStore implements Store
var _ Store = (*FakeStore)(nil)

// FakeStore is an in-memory Store used by tests across this codebase.
// It mirrors GormStore's semantics: upsert-on-conflict on the
// (user, portal) pair, version bumps on every write, and row-atomic
// batches. Safe for concurrent use.
type FakeStore struct {
	mu       sync.Mutex
	rows     map[string]*model.Enrollment // key: userID + "\x00" + portalID
	Portals  []model.Portal
	Modules  []model.Module
	Contents []model.Content

	// Err, when set, is returned by every operation. Lets tests force
	// store failures.
	Err error

	// OnChange, when set, is invoked after every successful write with
	// the event type and the affected row. Tests use it to pipe writes
	// into a feed Notifier. It runs with the store lock held, so it
	// must not call back into the store.
	OnChange func(op string, e model.Enrollment)

	now func() time.Time
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		rows: make(map[string]*model.Enrollment),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source.
func (f *FakeStore) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Seed inserts an enrollment verbatim, bypassing upsert semantics.
func (f *FakeStore) Seed(e model.Enrollment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := e
	f.rows[f.key(e.UserID, e.PortalID)] = &copied
}

func (f *FakeStore) key(userID, portalID string) string {
	return userID + "\x00" + portalID
}

func (f *FakeStore) Upsert(_ context.Context, userID, portalID string, perm model.Permission, enrolledBy string) (*model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	perm = perm.Clone()
	perm.Normalize()

	key := f.key(userID, portalID)
	op := "UPDATE"
	row, ok := f.rows[key]
	if !ok {
		op = "INSERT"
		row = &model.Enrollment{
			ID:       uuid.NewString(),
			UserID:   userID,
			PortalID: portalID,
		}
		f.rows[key] = row
	}
	row.Permissions = perm
	row.IsActive = true
	row.EnrolledAt = f.now()
	row.EnrolledBy = enrolledBy
	row.Version++

	out := *row
	f.notify(op, out)
	return &out, nil
}

func (f *FakeStore) Revoke(_ context.Context, userID, portalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}

	key := f.key(userID, portalID)
	row, ok := f.rows[key]
	if !ok {
		return fmt.Errorf("enrollment for user %s portal %s: %w", userID, portalID, ErrNotFound)
	}
	delete(f.rows, key)
	f.notify("DELETE", *row)
	return nil
}

func (f *FakeStore) Get(_ context.Context, userID, portalID string) (*model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	row, ok := f.rows[f.key(userID, portalID)]
	if !ok {
		return nil, fmt.Errorf("enrollment for user %s portal %s: %w", userID, portalID, ErrNotFound)
	}
	out := *row
	return &out, nil
}

func (f *FakeStore) ListByUser(_ context.Context, userID string) ([]model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	var out []model.Enrollment
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PortalID < out[j].PortalID })
	return out, nil
}

func (f *FakeStore) ListByPortal(_ context.Context, portalID string) ([]model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	var out []model.Enrollment
	for _, row := range f.rows {
		if row.PortalID == portalID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *FakeStore) Mutate(_ context.Context, userID, portalID string, muts []SetMutation) (*model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	row, ok := f.rows[f.key(userID, portalID)]
	if !ok {
		return nil, fmt.Errorf("enrollment for user %s portal %s: %w", userID, portalID, ErrNotFound)
	}

	perm := row.Permissions.Clone()
	for _, m := range muts {
		m.Apply(&perm)
	}
	perm.Normalize()

	row.Permissions = perm
	row.EnrolledAt = f.now()
	row.Version++

	out := *row
	f.notify("UPDATE", out)
	return &out, nil
}

func (f *FakeStore) ApplyBatch(ctx context.Context, ops []BatchOp) []BatchResult {
	results := make([]BatchResult, 0, len(ops))
	for _, op := range ops {
		res := BatchResult{Op: op}
		switch op.Kind {
		case OpUpsert:
			res.Enrollment, res.Err = f.guardedUpsert(ctx, op)
		case OpRevoke:
			res.Err = f.Revoke(ctx, op.UserID, op.PortalID)
		case OpMutate:
			res.Enrollment, res.Err = f.Mutate(ctx, op.UserID, op.PortalID, op.Mutations)
		default:
			res.Err = fmt.Errorf("unknown batch op kind %q", op.Kind)
		}
		results = append(results, res)
	}
	return results
}

func (f *FakeStore) guardedUpsert(ctx context.Context, op BatchOp) (*model.Enrollment, error) {
	if op.ExpectedVersion > 0 {
		f.mu.Lock()
		row, ok := f.rows[f.key(op.UserID, op.PortalID)]
		if !ok {
			f.mu.Unlock()
			return nil, fmt.Errorf("enrollment for user %s portal %s: %w", op.UserID, op.PortalID, ErrNotFound)
		}
		if row.Version != op.ExpectedVersion {
			f.mu.Unlock()
			return nil, fmt.Errorf("enrollment for user %s portal %s changed (version %d, expected %d): %w",
				op.UserID, op.PortalID, row.Version, op.ExpectedVersion, ErrConflict)
		}
		f.mu.Unlock()
	}
	return f.Upsert(ctx, op.UserID, op.PortalID, op.Permission, op.EnrolledBy)
}

func (f *FakeStore) ListPortals(_ context.Context, activeOnly bool) ([]model.Portal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	out := make([]model.Portal, 0, len(f.Portals))
	for _, p := range f.Portals {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeStore) ListModules(_ context.Context, portalID string) ([]model.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	var out []model.Module
	for _, m := range f.Modules {
		if m.PortalID == portalID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *FakeStore) ListContents(_ context.Context, portalID string) ([]model.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	moduleIDs := make(map[string]struct{})
	for _, m := range f.Modules {
		if m.PortalID == portalID {
			moduleIDs[m.ID] = struct{}{}
		}
	}
	var out []model.Content
	for _, c := range f.Contents {
		if _, ok := moduleIDs[c.ModuleID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeStore) notify(op string, e model.Enrollment) {
	if f.OnChange != nil {
		f.OnChange(op, e)
	}
}

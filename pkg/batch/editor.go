package batch

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/model"
)

// Grant is one desired portal membership: the user and the full
// permission object they should hold.
type Grant struct {
	UserID     string           `json:"userId" yaml:"userId"`
	Permission model.Permission `json:"permission" yaml:"permission"`
}

// RowOutcome reports what happened to one row of a sync.
type RowOutcome struct {
	UserID     string                 `json:"userId"`
	PortalID   string                 `json:"portalId"`
	Kind       enrollment.BatchOpKind `json:"kind"`
	Enrollment *model.Enrollment      `json:"enrollment,omitempty"`
	Err        error                  `json:"-"`
	Error      string                 `json:"error,omitempty"`
}

// Result is the per-row outcome of a sync. Failed rows are reported
// exactly; nothing is rolled back on their behalf.
type Result struct {
	Applied int          `json:"applied"`
	Failed  int          `json:"failed"`
	Rows    []RowOutcome `json:"rows"`
}

// Editor computes and persists membership diffs. The actor is recorded
// as enrolled_by on every grant it writes.
type Editor struct {
	store enrollment.Store
	actor string
	log   logrus.FieldLogger
}

func NewEditor(store enrollment.Store, actor string, log logrus.FieldLogger) *Editor {
	return &Editor{store: store, actor: actor, log: log}
}

// SyncPortal makes the portal's membership match desired: users in
// desired are upserted with their permission, enrolled users absent
// from desired are revoked. Upserts of existing rows carry the version
// seen in the snapshot, so an edit that raced another editor comes back
// as an ErrConflict row instead of silently overwriting.
func (e *Editor) SyncPortal(ctx context.Context, portalID string, desired []Grant) (*Result, error) {
	current, err := e.store.ListByPortal(ctx, portalID)
	if err != nil {
		return nil, fmt.Errorf("sync portal %s: list current membership: %w", portalID, err)
	}
	currentByUser := make(map[string]model.Enrollment, len(current))
	for _, row := range current {
		currentByUser[row.UserID] = row
	}

	ops := make([]enrollment.BatchOp, 0, len(desired)+len(current))
	desiredUsers := make(map[string]bool, len(desired))
	for _, g := range desired {
		desiredUsers[g.UserID] = true
		op := enrollment.BatchOp{
			Kind:       enrollment.OpUpsert,
			UserID:     g.UserID,
			PortalID:   portalID,
			Permission: g.Permission,
			EnrolledBy: e.actor,
		}
		if row, ok := currentByUser[g.UserID]; ok {
			op.ExpectedVersion = row.Version
		}
		ops = append(ops, op)
	}
	for _, row := range current {
		if desiredUsers[row.UserID] {
			continue
		}
		ops = append(ops, enrollment.BatchOp{
			Kind:     enrollment.OpRevoke,
			UserID:   row.UserID,
			PortalID: portalID,
		})
	}
	// Deterministic write order makes results and audit lines stable.
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].UserID < ops[j].UserID })

	return e.apply(ctx, "portal", portalID, ops), nil
}

// SyncModule makes moduleID's membership match desired within the
// portal: the id is added to allowedModules for desired users that lack
// it and removed from users that hold it but are not desired. Each row
// is a server-side set mutation, so the rest of the user's permission
// object is never touched. A desired user with no enrollment comes back
// as an ErrNotFound row.
func (e *Editor) SyncModule(ctx context.Context, portalID, moduleID string, desired []string) (*Result, error) {
	return e.syncSet(ctx, portalID, enrollment.FieldAllowedModules, moduleID, desired)
}

// SyncContent is SyncModule for a content id against allowedContents.
func (e *Editor) SyncContent(ctx context.Context, portalID, contentID string, desired []string) (*Result, error) {
	return e.syncSet(ctx, portalID, enrollment.FieldAllowedContents, contentID, desired)
}

func (e *Editor) syncSet(ctx context.Context, portalID string, field enrollment.SetField, id string, desired []string) (*Result, error) {
	current, err := e.store.ListByPortal(ctx, portalID)
	if err != nil {
		return nil, fmt.Errorf("sync %s %s: list current membership: %w", field, id, err)
	}

	holders := make(map[string]bool, len(current))
	for _, row := range current {
		if contains(setFor(row.Permissions, field), id) {
			holders[row.UserID] = true
		}
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, u := range desired {
		desiredSet[u] = true
	}

	var ops []enrollment.BatchOp
	for _, u := range desired {
		if holders[u] {
			continue
		}
		ops = append(ops, mutateOp(u, portalID, enrollment.SetAdd, field, id))
	}
	for _, row := range current {
		if holders[row.UserID] && !desiredSet[row.UserID] {
			ops = append(ops, mutateOp(row.UserID, portalID, enrollment.SetRemove, field, id))
		}
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].UserID < ops[j].UserID })

	return e.apply(ctx, string(field), id, ops), nil
}

func (e *Editor) apply(ctx context.Context, scope, scopeID string, ops []enrollment.BatchOp) *Result {
	results := e.store.ApplyBatch(ctx, ops)
	out := &Result{Rows: make([]RowOutcome, 0, len(results))}
	for _, res := range results {
		row := RowOutcome{
			UserID:     res.Op.UserID,
			PortalID:   res.Op.PortalID,
			Kind:       res.Op.Kind,
			Enrollment: res.Enrollment,
			Err:        res.Err,
		}
		if res.Err != nil {
			row.Error = res.Err.Error()
			out.Failed++
		} else {
			out.Applied++
		}
		out.Rows = append(out.Rows, row)
	}
	e.log.WithFields(logrus.Fields{
		"scope":   scope,
		"id":      scopeID,
		"applied": out.Applied,
		"failed":  out.Failed,
	}).Info("membership sync finished")
	return out
}

func mutateOp(userID, portalID string, op enrollment.SetOp, field enrollment.SetField, id string) enrollment.BatchOp {
	return enrollment.BatchOp{
		Kind:     enrollment.OpMutate,
		UserID:   userID,
		PortalID: portalID,
		Mutations: []enrollment.SetMutation{
			{Op: op, Field: field, ID: id},
		},
	}
}

func setFor(p model.Permission, field enrollment.SetField) []string {
	if field == enrollment.FieldAllowedContents {
		return p.AllowedContents
	}
	return p.AllowedModules
}

func contains(set []string, id string) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

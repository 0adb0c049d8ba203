package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/model"
)

// Orphan reasons reported by Reconcile.
const (
	OrphanPortalMissing  = "portal_missing"
	OrphanPortalInactive = "portal_inactive"
)

// Orphan is an enrollment referencing a portal that no longer accepts
// members. Reported for a human to act on, never auto-deleted.
type Orphan struct {
	EnrollmentID string `json:"enrollmentId"`
	UserID       string `json:"userId"`
	PortalID     string `json:"portalId"`
	Reason       string `json:"reason"`
}

// Duplicate is a (user, portal) pair holding more than one active
// enrollment. Structurally impossible while the store's unique index is
// in place; finding one means the constraint is missing.
type Duplicate struct {
	UserID        string   `json:"userId"`
	PortalID      string   `json:"portalId"`
	EnrollmentIDs []string `json:"enrollmentIds"`
}

// Report describes what one reconcile pass did and found.
type Report struct {
	UserID            string      `json:"userId"`
	Created           []string    `json:"created"` // portal ids that received a default enrollment
	FlaggedOrphans    []Orphan    `json:"flaggedOrphans"`
	FlaggedDuplicates []Duplicate `json:"flaggedDuplicates"`
}

// Reconciler runs integrity-repair passes against the enrollment store.
type Reconciler struct {
	store enrollment.Store
	log   logrus.FieldLogger
}

// New creates a reconciler.
func New(store enrollment.Store, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{store: store, log: log}
}

// Reconcile brings one user's enrollments in line with the active
// portal catalog. Existing enrollments are never modified; missing ones
// are created with the default full-access permission through the same
// upsert path admins use, so the change feed sees them.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*Report, error) {
	portals, err := r.store.ListPortals(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("reconcile for user %s: %w", userID, err)
	}
	enrollments, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reconcile for user %s: %w", userID, err)
	}

	byID := make(map[string]model.Portal, len(portals))
	for _, p := range portals {
		byID[p.ID] = p
	}

	report := &Report{
		UserID:            userID,
		Created:           []string{},
		FlaggedOrphans:    []Orphan{},
		FlaggedDuplicates: []Duplicate{},
	}

	enrolled := make(map[string][]string) // portal id -> active enrollment ids
	for _, e := range enrollments {
		if e.IsActive {
			enrolled[e.PortalID] = append(enrolled[e.PortalID], e.ID)
		}

		portal, exists := byID[e.PortalID]
		switch {
		case !exists:
			report.FlaggedOrphans = append(report.FlaggedOrphans, Orphan{
				EnrollmentID: e.ID, UserID: userID, PortalID: e.PortalID,
				Reason: OrphanPortalMissing,
			})
		case !portal.IsActive:
			report.FlaggedOrphans = append(report.FlaggedOrphans, Orphan{
				EnrollmentID: e.ID, UserID: userID, PortalID: e.PortalID,
				Reason: OrphanPortalInactive,
			})
		}
	}

	for portalID, ids := range enrolled {
		if len(ids) > 1 {
			sort.Strings(ids)
			report.FlaggedDuplicates = append(report.FlaggedDuplicates, Duplicate{
				UserID: userID, PortalID: portalID, EnrollmentIDs: ids,
			})
		}
	}
	sort.Slice(report.FlaggedDuplicates, func(i, j int) bool {
		return report.FlaggedDuplicates[i].PortalID < report.FlaggedDuplicates[j].PortalID
	})

	for _, p := range portals {
		if !p.IsActive {
			continue
		}
		if _, ok := enrolled[p.ID]; ok {
			continue
		}
		if _, err := r.store.Upsert(ctx, userID, p.ID, model.DefaultPermission(), "reconciler"); err != nil {
			return report, fmt.Errorf("reconcile for user %s: create enrollment for portal %s: %w", userID, p.ID, err)
		}
		report.Created = append(report.Created, p.ID)
	}

	r.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"created":    len(report.Created),
		"orphans":    len(report.FlaggedOrphans),
		"duplicates": len(report.FlaggedDuplicates),
	}).Info("reconcile pass finished")

	return report, nil
}

// ReconcileAll runs a pass for every user holding at least one
// enrollment in any portal. Failures are per-user; one bad user does
// not stop the sweep.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*Report, error) {
	portals, err := r.store.ListPortals(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("reconcile sweep: %w", err)
	}

	users := make(map[string]struct{})
	for _, p := range portals {
		enrollments, err := r.store.ListByPortal(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("reconcile sweep: portal %s: %w", p.ID, err)
		}
		for _, e := range enrollments {
			users[e.UserID] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(users))
	for u := range users {
		ordered = append(ordered, u)
	}
	sort.Strings(ordered)

	reports := make([]*Report, 0, len(ordered))
	for _, userID := range ordered {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		report, err := r.Reconcile(ctx, userID)
		if err != nil {
			r.log.WithError(err).WithField("user_id", userID).Error("reconcile failed for user")
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/memberhub/accessd/pkg/model"
)

// Ensure GormStore implements Store
var _ Store = (*GormStore)(nil)

// GormStore implements Store on PostgreSQL through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Upsert creates or replaces the grant for (userID, portalID).
func (s *GormStore) Upsert(ctx context.Context, userID, portalID string, perm model.Permission, enrolledBy string) (*model.Enrollment, error) {
	perm = perm.Clone()
	perm.Normalize()

	row := model.Enrollment{
		ID:          uuid.NewString(),
		UserID:      userID,
		PortalID:    portalID,
		IsActive:    true,
		Permissions: perm,
		Version:     1,
		EnrolledAt:  time.Now().UTC(),
		EnrolledBy:  enrolledBy,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "portal_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"permissions": row.Permissions,
			"is_active":   true,
			"enrolled_at": row.EnrolledAt,
			"enrolled_by": enrolledBy,
			"version":     gorm.Expr(`"enrollments"."version" + 1`),
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert enrollment for user %s portal %s: %w", userID, portalID, err)
	}

	// The conflict path keeps the existing row id and bumps its version,
	// so read back the canonical row.
	return s.Get(ctx, userID, portalID)
}

// Revoke deletes the grant for (userID, portalID).
func (s *GormStore) Revoke(ctx context.Context, userID, portalID string) error {
	tx := s.db.WithContext(ctx).
		Where("user_id = ? AND portal_id = ?", userID, portalID).
		Delete(&model.Enrollment{})
	if tx.Error != nil {
		return fmt.Errorf("failed to revoke enrollment for user %s portal %s: %w", userID, portalID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("enrollment for user %s portal %s: %w", userID, portalID, ErrNotFound)
	}
	return nil
}

// Get returns the grant for (userID, portalID).
func (s *GormStore) Get(ctx context.Context, userID, portalID string) (*model.Enrollment, error) {
	var row model.Enrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND portal_id = ?", userID, portalID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("enrollment for user %s portal %s: %w", userID, portalID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get enrollment for user %s portal %s: %w", userID, portalID, err)
	}
	return &row, nil
}

// ListByUser returns every enrollment held by the user.
func (s *GormStore) ListByUser(ctx context.Context, userID string) ([]model.Enrollment, error) {
	var rows []model.Enrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("portal_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments for user %s: %w", userID, err)
	}
	return rows, nil
}

// ListByPortal returns every enrollment for the portal.
func (s *GormStore) ListByPortal(ctx context.Context, portalID string) ([]model.Enrollment, error) {
	var rows []model.Enrollment
	err := s.db.WithContext(ctx).
		Where("portal_id = ?", portalID).
		Order("user_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments for portal %s: %w", portalID, err)
	}
	return rows, nil
}

// Mutate applies set mutations to the pair's permission under a row
// lock. The read, the edit and the write share one transaction, so a
// concurrent Mutate on the same row waits rather than overwriting.
func (s *GormStore) Mutate(ctx context.Context, userID, portalID string, muts []SetMutation) (*model.Enrollment, error) {
	var updated model.Enrollment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.Enrollment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND portal_id = ?", userID, portalID).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("enrollment for user %s portal %s: %w", userID, portalID, ErrNotFound)
			}
			return err
		}

		perm := row.Permissions.Clone()
		for _, m := range muts {
			m.Apply(&perm)
		}
		perm.Normalize()

		now := time.Now().UTC()
		err = tx.Model(&model.Enrollment{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"permissions": perm,
				"enrolled_at": now,
				"version":     gorm.Expr(`"enrollments"."version" + 1`),
			}).Error
		if err != nil {
			return err
		}

		updated = row
		updated.Permissions = perm
		updated.EnrolledAt = now
		updated.Version = row.Version + 1
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mutate enrollment for user %s portal %s: %w", userID, portalID, err)
	}
	return &updated, nil
}

// ApplyBatch runs each op row-atomically. A failed row is reported in
// its result; completed rows stay applied.
func (s *GormStore) ApplyBatch(ctx context.Context, ops []BatchOp) []BatchResult {
	results := make([]BatchResult, 0, len(ops))
	for _, op := range ops {
		res := BatchResult{Op: op}
		switch op.Kind {
		case OpUpsert:
			if op.ExpectedVersion > 0 {
				res.Enrollment, res.Err = s.guardedUpsert(ctx, op)
			} else {
				res.Enrollment, res.Err = s.Upsert(ctx, op.UserID, op.PortalID, op.Permission, op.EnrolledBy)
			}
		case OpRevoke:
			res.Err = s.Revoke(ctx, op.UserID, op.PortalID)
		case OpMutate:
			res.Enrollment, res.Err = s.Mutate(ctx, op.UserID, op.PortalID, op.Mutations)
		default:
			res.Err = fmt.Errorf("unknown batch op kind %q", op.Kind)
		}
		results = append(results, res)

		if ctx.Err() != nil {
			// Abandoned mid-batch: row writes so far are complete and
			// durable, the remainder is skipped and reported.
			for _, rest := range ops[len(results):] {
				results = append(results, BatchResult{Op: rest, Err: ctx.Err()})
			}
			break
		}
	}
	return results
}

// guardedUpsert is the optimistic variant of Upsert: it refuses to
// replace a row whose version moved since the caller read it.
func (s *GormStore) guardedUpsert(ctx context.Context, op BatchOp) (*model.Enrollment, error) {
	var updated *model.Enrollment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.Enrollment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND portal_id = ?", op.UserID, op.PortalID).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("enrollment for user %s portal %s: %w", op.UserID, op.PortalID, ErrNotFound)
			}
			return err
		}
		if row.Version != op.ExpectedVersion {
			return fmt.Errorf("enrollment for user %s portal %s changed (version %d, expected %d): %w",
				op.UserID, op.PortalID, row.Version, op.ExpectedVersion, ErrConflict)
		}

		perm := op.Permission.Clone()
		perm.Normalize()
		now := time.Now().UTC()
		err = tx.Model(&model.Enrollment{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"permissions": perm,
				"is_active":   true,
				"enrolled_at": now,
				"enrolled_by": op.EnrolledBy,
				"version":     gorm.Expr(`"enrollments"."version" + 1`),
			}).Error
		if err != nil {
			return err
		}

		row.Permissions = perm
		row.IsActive = true
		row.EnrolledAt = now
		row.EnrolledBy = op.EnrolledBy
		row.Version++
		updated = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListPortals returns the portal catalog.
func (s *GormStore) ListPortals(ctx context.Context, activeOnly bool) ([]model.Portal, error) {
	var rows []model.Portal
	q := s.db.WithContext(ctx).Order("id")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list portals: %w", err)
	}
	return rows, nil
}

// ListModules returns the module catalog for a portal.
func (s *GormStore) ListModules(ctx context.Context, portalID string) ([]model.Module, error) {
	var rows []model.Module
	err := s.db.WithContext(ctx).
		Where("portal_id = ?", portalID).
		Order("order_index, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list modules for portal %s: %w", portalID, err)
	}
	return rows, nil
}

// ListContents returns the content catalog for a portal.
func (s *GormStore) ListContents(ctx context.Context, portalID string) ([]model.Content, error) {
	var rows []model.Content
	err := s.db.WithContext(ctx).
		Where("module_id IN (?)",
			s.db.Model(&model.Module{}).Select("id").Where("portal_id = ?", portalID),
		).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list contents for portal %s: %w", portalID, err)
	}
	return rows, nil
}

package model

import "time"

// Enrollment represents a per-user-per-portal access grant.
//
// At most one active enrollment exists per (UserID, PortalID) pair,
// enforced by a unique index and upsert-on-conflict rather than
// application-level locking. Version increases on every write and backs
// the optimistic stale-write check in the store.
type Enrollment struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	UserID      string     `gorm:"column:user_id;not null" json:"userId"`
	PortalID    string     `gorm:"column:portal_id;not null" json:"portalId"`
	IsActive    bool       `gorm:"column:is_active;not null" json:"isActive"`
	Permissions Permission `gorm:"column:permissions;type:jsonb" json:"permissions"`
	Version     int64      `gorm:"column:version;not null" json:"version"`
	EnrolledAt  time.Time  `gorm:"column:enrolled_at;not null" json:"enrolledAt"`
	EnrolledBy  string     `gorm:"column:enrolled_by" json:"enrolledBy"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

// NewerThan reports whether e was written after other, judged by the
// record's own timestamp and never by arrival order. Version breaks ties
// between writes that landed in the same instant.
func (e Enrollment) NewerThan(other Enrollment) bool {
	if e.EnrolledAt.Equal(other.EnrolledAt) {
		return e.Version > other.Version
	}
	return e.EnrolledAt.After(other.EnrolledAt)
}

package enrollment

import (
	"context"

	"github.com/memberhub/accessd/pkg/model"
)

// SetOp is a commutative operation on one of a permission's id sets.
type SetOp string

const (
	SetAdd    SetOp = "add"
	SetRemove SetOp = "remove"
)

// SetField selects which id set a mutation targets.
type SetField string

const (
	FieldAllowedModules  SetField = "allowedModules"
	FieldAllowedContents SetField = "allowedContents"
)

// SetMutation adds or removes a single id from one of the permission
// sets, preserving the rest of the permission object. Mutations are
// applied server-side under a row lock, so concurrent editors compose
// instead of overwriting each other.
type SetMutation struct {
	Op    SetOp    `json:"op" yaml:"op"`
	Field SetField `json:"field" yaml:"field"`
	ID    string   `json:"id" yaml:"id"`
}

// BatchOpKind discriminates batch operations.
type BatchOpKind string

const (
	OpUpsert BatchOpKind = "upsert"
	OpRevoke BatchOpKind = "revoke"
	OpMutate BatchOpKind = "mutate"
)

// BatchOp is one row-level operation in a batch. Each row write is
// atomic; the batch as a whole is not transactional and is safe to
// abandon between rows.
type BatchOp struct {
	Kind     BatchOpKind
	UserID   string
	PortalID string

	// Upsert only.
	Permission model.Permission
	EnrolledBy string
	// ExpectedVersion, when non-zero, makes the upsert an optimistic
	// write: a row whose version moved on rejects with ErrConflict.
	ExpectedVersion int64

	// Mutate only.
	Mutations []SetMutation
}

// BatchResult reports the outcome of one batch row.
type BatchResult struct {
	Op         BatchOp
	Enrollment *model.Enrollment // nil for revokes and failed rows
	Err        error
}

// Store is the capability handed to every component that touches
// enrollments. No component holds a global database handle.
type Store interface {
	// Upsert creates or replaces the grant for (userID, portalID).
	// Idempotent: a conflict on the pair replaces the permission
	// wholesale, reactivates the row and refreshes enrolled_at and
	// enrolled_by.
	Upsert(ctx context.Context, userID, portalID string, perm model.Permission, enrolledBy string) (*model.Enrollment, error)

	// Revoke deletes the grant. ErrNotFound when no row existed.
	Revoke(ctx context.Context, userID, portalID string) error

	// Get returns the grant for the pair, or ErrNotFound.
	Get(ctx context.Context, userID, portalID string) (*model.Enrollment, error)

	// ListByUser returns every enrollment held by the user.
	ListByUser(ctx context.Context, userID string) ([]model.Enrollment, error)

	// ListByPortal returns every enrollment for the portal.
	ListByPortal(ctx context.Context, portalID string) ([]model.Enrollment, error)

	// Mutate applies set mutations to the pair's permission under a row
	// lock and returns the updated enrollment. ErrNotFound when the user
	// holds no enrollment for the portal.
	Mutate(ctx context.Context, userID, portalID string, muts []SetMutation) (*model.Enrollment, error)

	// ApplyBatch runs each op row-atomically and reports per-row
	// outcomes; it never rolls back completed rows.
	ApplyBatch(ctx context.Context, ops []BatchOp) []BatchResult

	// Catalog reads. The catalog is owned by authoring flows and is
	// read-only input here.
	ListPortals(ctx context.Context, activeOnly bool) ([]model.Portal, error)
	ListModules(ctx context.Context, portalID string) ([]model.Module, error)
	ListContents(ctx context.Context, portalID string) ([]model.Content, error)
}

// Apply runs a mutation against a permission value. Adds are no-ops for
// present ids and removes for absent ids, which is what makes the ops
// commutative and safe to re-apply.
func (m SetMutation) Apply(p *model.Permission) {
	switch m.Field {
	case FieldAllowedModules:
		p.AllowedModules = applySetOp(p.AllowedModules, m.Op, m.ID)
	case FieldAllowedContents:
		p.AllowedContents = applySetOp(p.AllowedContents, m.Op, m.ID)
	}
}

func applySetOp(set []string, op SetOp, id string) []string {
	switch op {
	case SetAdd:
		for _, s := range set {
			if s == id {
				return set
			}
		}
		return append(set, id)
	case SetRemove:
		out := make([]string, 0, len(set))
		for _, s := range set {
			if s != id {
				out = append(out, s)
			}
		}
		return out
	}
	return set
}

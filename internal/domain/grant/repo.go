package grant

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists authorization grants. State transitions go through
// UpdateStatus, a compare-and-set on the stored status column: the write
// succeeds only if the row still holds expectedStatus, so two concurrent
// mutually exclusive transitions resolve to exactly one winner.
type Repository interface {
	Create(ctx context.Context, g *Grant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Grant, error)

	// UpdateStatus persists g's transition fields iff the stored status
	// still equals expectedStatus. Returns ErrConflict when the row has
	// moved on, ErrNotFound when it does not exist.
	UpdateStatus(ctx context.Context, g *Grant, expectedStatus Status) error

	// ListByOrganization returns grants for an organization filtered by
	// stored status, newest first.
	ListByOrganization(ctx context.Context, orgID uuid.UUID, status Status, limit, offset int) ([]*Grant, int, error)

	// ListBySubject returns grants for a subject filtered by stored
	// status, newest first.
	ListBySubject(ctx context.Context, subjectID uuid.UUID, status Status, limit, offset int) ([]*Grant, int, error)

	// FindBySubjectAndOrganization returns every grant linking the pair,
	// regardless of status.
	FindBySubjectAndOrganization(ctx context.Context, subjectID, orgID uuid.UUID) ([]*Grant, error)
}

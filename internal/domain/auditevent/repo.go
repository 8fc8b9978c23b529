package auditevent

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the append-only audit store. Events are never updated or
// deleted.
type Repository interface {
	Record(ctx context.Context, e *Event) error
	ListByGrant(ctx context.Context, grantID uuid.UUID, limit, offset int) ([]*Event, int, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Event, int, error)
}

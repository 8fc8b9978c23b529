package grant

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe in-memory Repository with the same
// compare-and-set semantics as the Postgres implementation. It is suitable
// for development, testing, and single-node deployments.
type InMemoryRepo struct {
	mu     sync.Mutex
	grants map[uuid.UUID]*Grant
}

// NewInMemoryRepo creates an empty in-memory grant repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{grants: make(map[uuid.UUID]*Grant)}
}

func (r *InMemoryRepo) Create(_ context.Context, g *Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	cp := copyGrant(g)
	r.grants[cp.ID] = cp
	return nil
}

func (r *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGrant(g), nil
}

func (r *InMemoryRepo) UpdateStatus(_ context.Context, g *Grant, expectedStatus Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.grants[g.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != expectedStatus {
		return ErrConflict
	}

	next := copyGrant(stored)
	next.Status = g.Status
	next.ExpiresAt = g.ExpiresAt
	next.GrantedAt = copyTime(g.GrantedAt)
	next.DeniedAt = copyTime(g.DeniedAt)
	next.RevokedAt = copyTime(g.RevokedAt)
	r.grants[g.ID] = next
	return nil
}

func (r *InMemoryRepo) ListByOrganization(_ context.Context, orgID uuid.UUID, status Status, limit, offset int) ([]*Grant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterLocked(func(g *Grant) bool {
		return g.OrganizationID == orgID && g.Status == status
	}, limit, offset)
}

func (r *InMemoryRepo) ListBySubject(_ context.Context, subjectID uuid.UUID, status Status, limit, offset int) ([]*Grant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterLocked(func(g *Grant) bool {
		return g.SubjectID == subjectID && g.Status == status
	}, limit, offset)
}

func (r *InMemoryRepo) FindBySubjectAndOrganization(_ context.Context, subjectID, orgID uuid.UUID) ([]*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches, _, err := r.filterLocked(func(g *Grant) bool {
		return g.SubjectID == subjectID && g.OrganizationID == orgID
	}, 0, 0)
	return matches, err
}

// filterLocked collects matching grants newest first. Caller holds the lock.
func (r *InMemoryRepo) filterLocked(match func(*Grant) bool, limit, offset int) ([]*Grant, int, error) {
	var matching []*Grant
	for _, g := range r.grants {
		if match(g) {
			matching = append(matching, g)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].CreatedAt.After(matching[j].CreatedAt)
	})

	total := len(matching)
	if offset > len(matching) {
		offset = len(matching)
	}
	matching = matching[offset:]
	if limit > 0 && limit < len(matching) {
		matching = matching[:limit]
	}

	out := make([]*Grant, len(matching))
	for i, g := range matching {
		out[i] = copyGrant(g)
	}
	return out, total, nil
}

// copyGrant returns a deep copy to prevent mutation through shared pointers.
func copyGrant(g *Grant) *Grant {
	cp := *g
	cp.Scope = g.Scope.Clone()
	cp.GrantedAt = copyTime(g.GrantedAt)
	cp.DeniedAt = copyTime(g.DeniedAt)
	cp.RevokedAt = copyTime(g.RevokedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

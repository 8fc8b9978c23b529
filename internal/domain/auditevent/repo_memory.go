package auditevent

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepo is a thread-safe in-memory audit store for development and
// tests. Events are held in insertion order.
type InMemoryRepo struct {
	mu     sync.Mutex
	events []*Event
}

// NewInMemoryRepo creates an empty in-memory audit repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

func (r *InMemoryRepo) Record(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *InMemoryRepo) ListByGrant(_ context.Context, grantID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	return r.filter(func(e *Event) bool {
		return e.GrantID != nil && *e.GrantID == grantID
	}, limit, offset)
}

func (r *InMemoryRepo) ListByOrganization(_ context.Context, orgID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	return r.filter(func(e *Event) bool {
		return e.OrganizationID != nil && *e.OrganizationID == orgID
	}, limit, offset)
}

func (r *InMemoryRepo) filter(match func(*Event) bool, limit, offset int) ([]*Event, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matching []*Event
	// Newest first.
	for i := len(r.events) - 1; i >= 0; i-- {
		if match(r.events[i]) {
			matching = append(matching, r.events[i])
		}
	}

	total := len(matching)
	if offset > len(matching) {
		offset = len(matching)
	}
	matching = matching[offset:]
	if limit > 0 && limit < len(matching) {
		matching = matching[:limit]
	}

	out := make([]*Event, len(matching))
	for i, e := range matching {
		cp := *e
		out[i] = &cp
	}
	return out, total, nil
}

// All returns every recorded event, oldest first. Test helper.
func (r *InMemoryRepo) All() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Event, len(r.events))
	for i, e := range r.events {
		cp := *e
		out[i] = &cp
	}
	return out
}

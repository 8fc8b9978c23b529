package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryPatientRepo is a thread-safe in-memory PatientRepository.
type InMemoryPatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
}

func NewInMemoryPatientRepo() *InMemoryPatientRepo {
	return &InMemoryPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (r *InMemoryPatientRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.patients {
		if existing.DigitalIdentifier == p.DigitalIdentifier {
			return ErrDuplicateIdentifier
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	r.patients[cp.ID] = &cp
	return nil
}

func (r *InMemoryPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryPatientRepo) GetByDigitalIdentifier(_ context.Context, digitalID string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.patients {
		if p.DigitalIdentifier == digitalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryPatientRepo) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patients[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	r.patients[cp.ID] = &cp
	return nil
}

func (r *InMemoryPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return page(all, limit, offset), total, nil
}

// InMemoryPractitionerRepo is a thread-safe in-memory PractitionerRepository.
type InMemoryPractitionerRepo struct {
	mu            sync.Mutex
	practitioners map[uuid.UUID]*Practitioner
}

func NewInMemoryPractitionerRepo() *InMemoryPractitionerRepo {
	return &InMemoryPractitionerRepo{practitioners: make(map[uuid.UUID]*Practitioner)}
}

func (r *InMemoryPractitionerRepo) Create(_ context.Context, p *Practitioner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	r.practitioners[cp.ID] = &cp
	return nil
}

func (r *InMemoryPractitionerRepo) GetByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.practitioners[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryPractitionerRepo) Update(_ context.Context, p *Practitioner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.practitioners[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	r.practitioners[cp.ID] = &cp
	return nil
}

func (r *InMemoryPractitionerRepo) ListByOrganization(_ context.Context, orgID uuid.UUID, limit, offset int) ([]*Practitioner, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matching []*Practitioner
	for _, p := range r.practitioners {
		if p.OrganizationID == orgID {
			cp := *p
			matching = append(matching, &cp)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].CreatedAt.After(matching[j].CreatedAt) })
	total := len(matching)
	return page(matching, limit, offset), total, nil
}

// InMemoryOrganizationRepo is a thread-safe in-memory OrganizationRepository.
type InMemoryOrganizationRepo struct {
	mu            sync.Mutex
	organizations map[uuid.UUID]*Organization
}

func NewInMemoryOrganizationRepo() *InMemoryOrganizationRepo {
	return &InMemoryOrganizationRepo{organizations: make(map[uuid.UUID]*Organization)}
}

func (r *InMemoryOrganizationRepo) Create(_ context.Context, o *Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	r.organizations[cp.ID] = &cp
	return nil
}

func (r *InMemoryOrganizationRepo) GetByID(_ context.Context, id uuid.UUID) (*Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.organizations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *InMemoryOrganizationRepo) Update(_ context.Context, o *Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.organizations[o.ID]; !ok {
		return ErrNotFound
	}
	o.UpdatedAt = time.Now()
	cp := *o
	r.organizations[cp.ID] = &cp
	return nil
}

func (r *InMemoryOrganizationRepo) List(_ context.Context, limit, offset int) ([]*Organization, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Organization, 0, len(r.organizations))
	for _, o := range r.organizations {
		cp := *o
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return page(all, limit, offset), total, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

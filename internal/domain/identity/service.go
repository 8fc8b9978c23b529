package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/medigrant/medigrant/internal/domain/permission"
	"github.com/medigrant/medigrant/internal/platform/crypto"
)

// Service coordinates party registration. The field cipher, when present,
// encrypts patient contact fields before they reach storage.
type Service struct {
	patients      PatientRepository
	practitioners PractitionerRepository
	organizations OrganizationRepository
	cipher        *crypto.FieldCipher
}

func NewService(
	patients PatientRepository,
	practitioners PractitionerRepository,
	organizations OrganizationRepository,
	cipher *crypto.FieldCipher,
) *Service {
	return &Service{
		patients:      patients,
		practitioners: practitioners,
		organizations: organizations,
		cipher:        cipher,
	}
}

// -- Patient --

func (s *Service) RegisterPatient(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}

	digitalID, err := generateDigitalIdentifier()
	if err != nil {
		return err
	}
	p.DigitalIdentifier = digitalID
	p.Active = true

	if err := s.encryptPatient(p); err != nil {
		return err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return err
	}
	return s.decryptPatient(p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.decryptPatient(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPatientByDigitalIdentifier(ctx context.Context, digitalID string) (*Patient, error) {
	p, err := s.patients.GetByDigitalIdentifier(ctx, digitalID)
	if err != nil {
		return nil, err
	}
	if err := s.decryptPatient(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if err := s.encryptPatient(p); err != nil {
		return err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return err
	}
	return s.decryptPatient(p)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	patients, total, err := s.patients.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range patients {
		if err := s.decryptPatient(p); err != nil {
			return nil, 0, err
		}
	}
	return patients, total, nil
}

// -- Practitioner --

func (s *Service) RegisterPractitioner(ctx context.Context, p *Practitioner) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if p.LicenseNumber == "" {
		return fmt.Errorf("license_number is required")
	}
	if p.OrganizationID == uuid.Nil {
		return fmt.Errorf("organization_id is required")
	}
	if _, err := s.organizations.GetByID(ctx, p.OrganizationID); err != nil {
		return err
	}
	p.Active = true
	return s.practitioners.Create(ctx, p)
}

func (s *Service) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return s.practitioners.GetByID(ctx, id)
}

// UpdatePractitionerPermissions replaces a practitioner's capability set.
func (s *Service) UpdatePractitionerPermissions(ctx context.Context, id uuid.UUID, perms permission.Set) (*Practitioner, error) {
	p, err := s.practitioners.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Permissions = perms
	if err := s.practitioners.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPractitioners(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Practitioner, int, error) {
	return s.practitioners.ListByOrganization(ctx, orgID, limit, offset)
}

// -- Organization --

func (s *Service) RegisterOrganization(ctx context.Context, o *Organization) error {
	if o.Name == "" {
		return fmt.Errorf("name is required")
	}
	if o.RegistrationNumber == "" {
		return fmt.Errorf("registration_number is required")
	}
	o.Active = true
	o.Verified = false
	return s.organizations.Create(ctx, o)
}

func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return s.organizations.GetByID(ctx, id)
}

// VerifyOrganization marks an organization as verified, unlocking its
// ability to request grants.
func (s *Service) VerifyOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	o, err := s.organizations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Verified {
		o.Verified = true
		now := time.Now()
		o.VerifiedAt = &now
		if err := s.organizations.Update(ctx, o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (s *Service) ListOrganizations(ctx context.Context, limit, offset int) ([]*Organization, int, error) {
	return s.organizations.List(ctx, limit, offset)
}

// encryptPatient encrypts contact fields in place. No-op without a cipher.
func (s *Service) encryptPatient(p *Patient) error {
	if s.cipher == nil {
		return nil
	}
	if p.Phone != nil {
		enc, err := s.cipher.Encrypt(*p.Phone)
		if err != nil {
			return err
		}
		p.Phone = &enc
	}
	if p.Email != nil {
		enc, err := s.cipher.Encrypt(*p.Email)
		if err != nil {
			return err
		}
		p.Email = &enc
	}
	return nil
}

// decryptPatient reverses encryptPatient for values read from storage.
func (s *Service) decryptPatient(p *Patient) error {
	if s.cipher == nil {
		return nil
	}
	if p.Phone != nil {
		dec, err := s.cipher.Decrypt(*p.Phone)
		if err != nil {
			return err
		}
		p.Phone = &dec
	}
	if p.Email != nil {
		dec, err := s.cipher.Decrypt(*p.Email)
		if err != nil {
			return err
		}
		p.Email = &dec
	}
	return nil
}

// generateDigitalIdentifier draws a MG-XXXX-XXXX identifier from the secure
// random source. Uniqueness is enforced by the storage layer.
func generateDigitalIdentifier() (string, error) {
	groups := make([]string, 2)
	for i := range groups {
		n, err := rand.Int(rand.Reader, big.NewInt(10000))
		if err != nil {
			return "", fmt.Errorf("%w: secure random source: %v", crypto.ErrUnavailable, err)
		}
		groups[i] = fmt.Sprintf("%04d", n.Int64())
	}
	return fmt.Sprintf("MG-%s-%s", groups[0], groups[1]), nil
}

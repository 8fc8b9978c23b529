// Package identity manages the parties of the consent flow: patients with
// their stable digital identifiers, practitioners with their capability
// sets, and the organizations practitioners belong to.
package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medigrant/medigrant/internal/domain/permission"
)

var (
	// ErrNotFound indicates the requested party does not exist.
	ErrNotFound = errors.New("identity not found")

	// ErrDuplicateIdentifier indicates a digital identifier collision.
	ErrDuplicateIdentifier = errors.New("duplicate digital identifier")
)

// Patient maps to the patient table. Phone and email are encrypted at rest
// when a field cipher is configured; the digital identifier is the only
// value ever embedded in a QR payload.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	DigitalIdentifier string     `db:"digital_identifier" json:"digital_identifier"`
	Active            bool       `db:"active" json:"active"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	BirthDate         *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone             *string    `db:"phone" json:"phone,omitempty"`
	Email             *string    `db:"email" json:"email,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Practitioner maps to the practitioner table. The permission set controls
// which access scopes the practitioner may request on behalf of their
// organization.
type Practitioner struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	OrganizationID uuid.UUID      `db:"organization_id" json:"organization_id"`
	Active         bool           `db:"active" json:"active"`
	FirstName      string         `db:"first_name" json:"first_name"`
	LastName       string         `db:"last_name" json:"last_name"`
	LicenseNumber  string         `db:"license_number" json:"license_number"`
	Specialty      *string        `db:"specialty" json:"specialty,omitempty"`
	Email          *string        `db:"email" json:"email,omitempty"`
	Permissions    permission.Set `db:"permissions" json:"permissions"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Organization maps to the organization table. Only verified organizations
// may request authorization grants.
type Organization struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	RegistrationNumber string     `db:"registration_number" json:"registration_number"`
	Active             bool       `db:"active" json:"active"`
	Verified           bool       `db:"verified" json:"verified"`
	VerifiedAt         *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

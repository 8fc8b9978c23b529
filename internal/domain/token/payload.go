package token

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medigrant/medigrant/internal/domain/permission"
)

// Kind is the type discriminator carried by every capability token. A token
// of one kind is never accepted by an operation expecting another.
type Kind string

const (
	// KindIdentity is the patient identity token embedded in the QR code a
	// practitioner scans to start an authorization request.
	KindIdentity Kind = "health_access_request"

	// KindAuthorizationRequest lets an organization confirm a patient's
	// identity when fetching a pending grant.
	KindAuthorizationRequest Kind = "authorization_request"

	// KindPrescription lets a pharmacy verify one specific prescription
	// without calling back into the grant engine.
	KindPrescription Kind = "prescription_token"
)

// Version is the wire version stamped into every envelope.
const Version = "1.0"

// payload is implemented by every token payload type.
type payload interface {
	// validate checks that required fields are present and well-typed.
	validate() error
}

// IdentityPayload is the QR payload identifying a patient by digital
// identifier.
type IdentityPayload struct {
	DigitalIdentifier string    `json:"digitalIdentifier"`
	Timestamp         time.Time `json:"timestamp"`
}

func (p IdentityPayload) validate() error {
	if p.DigitalIdentifier == "" {
		return fmt.Errorf("digitalIdentifier is required")
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// AuthorizationRequestPayload ties a pending grant to the patient and
// organization it belongs to.
type AuthorizationRequestPayload struct {
	GrantID        uuid.UUID                 `json:"grantId"`
	UserID         uuid.UUID                 `json:"userId"`
	OrganizationID uuid.UUID                 `json:"organizationId"`
	AccessScope    map[permission.Scope]bool `json:"accessScope"`
}

func (p AuthorizationRequestPayload) validate() error {
	if p.GrantID == uuid.Nil {
		return fmt.Errorf("grantId is required")
	}
	if p.UserID == uuid.Nil {
		return fmt.Errorf("userId is required")
	}
	if p.OrganizationID == uuid.Nil {
		return fmt.Errorf("organizationId is required")
	}
	return nil
}

// Medication describes the prescribed medication inside a prescription token.
type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

// PrescriptionPatient identifies the patient a prescription belongs to.
type PrescriptionPatient struct {
	DigitalID string `json:"digitalId"`
}

// Prescriber identifies the prescribing practitioner.
type Prescriber struct {
	ID            uuid.UUID `json:"id"`
	LicenseNumber string    `json:"licenseNumber"`
}

// PrescribingOrganization identifies the issuing organization.
type PrescribingOrganization struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// PrescriptionPayload embeds enough identity to prevent substitution: the
// encounter, the prescription index within it, the prescriber, the patient
// and the organization are all bound under one signature.
type PrescriptionPayload struct {
	EncounterID       uuid.UUID               `json:"encounterId"`
	PrescriptionIndex int                     `json:"prescriptionIndex"`
	Medication        Medication              `json:"medication"`
	Patient           PrescriptionPatient     `json:"patient"`
	Prescriber        Prescriber              `json:"prescriber"`
	Organization      PrescribingOrganization `json:"organization"`
}

func (p PrescriptionPayload) validate() error {
	if p.EncounterID == uuid.Nil {
		return fmt.Errorf("encounterId is required")
	}
	if p.PrescriptionIndex < 0 {
		return fmt.Errorf("prescriptionIndex must be non-negative")
	}
	if p.Medication.Name == "" {
		return fmt.Errorf("medication.name is required")
	}
	if p.Patient.DigitalID == "" {
		return fmt.Errorf("patient.digitalId is required")
	}
	if p.Prescriber.ID == uuid.Nil {
		return fmt.Errorf("prescriber.id is required")
	}
	if p.Organization.ID == uuid.Nil {
		return fmt.Errorf("organization.id is required")
	}
	return nil
}

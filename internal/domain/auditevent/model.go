// Package auditevent records every grant-engine operation in an append-only
// log: requests, decisions, revocations, access checks and token issuance.
package auditevent

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the grant engine.
const (
	ActionGrantRequest      = "grant.request"
	ActionGrantApprove      = "grant.approve"
	ActionGrantDeny         = "grant.deny"
	ActionGrantRevoke       = "grant.revoke"
	ActionAccessCheck       = "grant.access_check"
	ActionPrescriptionToken = "token.prescription_issue"
	ActionIdentityToken     = "token.identity_issue"
)

// Outcomes of a recorded action.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Event is one audit record. Origin IP and user agent are retained for
// audit only and never drive authorization decisions.
type Event struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Action         string     `db:"action" json:"action"`
	Outcome        string     `db:"outcome" json:"outcome"`
	ActorID        *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	GrantID        *uuid.UUID `db:"grant_id" json:"grant_id,omitempty"`
	SubjectID      *uuid.UUID `db:"subject_id" json:"subject_id,omitempty"`
	OrganizationID *uuid.UUID `db:"organization_id" json:"organization_id,omitempty"`
	Scope          string     `db:"scope" json:"scope,omitempty"`
	Detail         string     `db:"detail" json:"detail,omitempty"`
	RequestIP      string     `db:"request_ip" json:"request_ip,omitempty"`
	UserAgent      string     `db:"user_agent" json:"user_agent,omitempty"`
	Recorded       time.Time  `db:"recorded" json:"recorded"`
}

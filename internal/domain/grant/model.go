// Package grant implements the authorization-grant consent engine: the grant
// entity and its transition rules, and the service orchestrating the
// scan → request → approve/deny → access-check → revoke flow.
package grant

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medigrant/medigrant/internal/domain/permission"
)

var (
	// ErrInvalidTransition indicates an illegal state change was attempted.
	ErrInvalidTransition = errors.New("invalid grant transition")

	// ErrConflict indicates a compare-and-set write lost a concurrent race.
	ErrConflict = errors.New("grant modified concurrently")

	// ErrNotFound indicates the grant does not exist.
	ErrNotFound = errors.New("grant not found")

	// ErrAccessDenied is the uniform failure for access checks and actor
	// mismatches. Denied, expired, revoked and nonexistent grants all
	// surface this same error so an organization cannot distinguish them.
	ErrAccessDenied = errors.New("access denied")

	// ErrTokenReplay indicates an identity token that already produced a
	// grant request was presented again.
	ErrTokenReplay = errors.New("identity token already used")

	// ErrOrganizationNotVerified indicates the requesting organization has
	// not completed verification.
	ErrOrganizationNotVerified = errors.New("organization not verified")
)

// Status is the stored lifecycle state of a grant. Expired is never stored;
// it is derived at read time from expiresAt.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusDenied  Status = "denied"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// DecisionWindow is how long a patient has to approve or deny a pending
// request, independent of the requested access window.
const DecisionWindow = 24 * time.Hour

// AccessScope is the set of named boolean access rights carried by a grant.
// Keys must exist in the permission registry.
type AccessScope map[permission.Scope]bool

// Grant is the consent record linking a patient, an organization and an
// access scope. Grants are never physically deleted; terminal states are
// retained for audit and are immutable apart from lazy expiry
// reclassification. Transition methods are value-returning: they leave the
// receiver untouched and hand back the successor state for an explicit
// compare-and-set write.
type Grant struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	SubjectID        uuid.UUID   `db:"subject_id" json:"subject_id"`
	OrganizationID   uuid.UUID   `db:"organization_id" json:"organization_id"`
	PractitionerID   uuid.UUID   `db:"practitioner_id" json:"practitioner_id"`
	Scope            AccessScope `db:"access_scope" json:"access_scope"`
	Status           Status      `db:"status" json:"status"`
	TimeWindowHours  int         `db:"time_window_hours" json:"time_window_hours"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	ExpiresAt        time.Time   `db:"expires_at" json:"expires_at"`
	GrantedAt        *time.Time  `db:"granted_at" json:"granted_at,omitempty"`
	DeniedAt         *time.Time  `db:"denied_at" json:"denied_at,omitempty"`
	RevokedAt        *time.Time  `db:"revoked_at" json:"revoked_at,omitempty"`
	RequestIP        string      `db:"request_ip" json:"request_ip,omitempty"`
	RequestUserAgent string      `db:"request_user_agent" json:"request_user_agent,omitempty"`
}

// EffectiveStatus interprets the stored status at read time. A grant past
// its expiresAt reads as expired unless it already reached a terminal
// denied/revoked state, which is never reinterpreted.
func (g Grant) EffectiveStatus(now time.Time) Status {
	switch g.Status {
	case StatusDenied, StatusRevoked:
		return g.Status
	}
	if now.After(g.ExpiresAt) {
		return StatusExpired
	}
	return g.Status
}

// HasPermission is the single source of truth at every record-access
// boundary: the grant must be effectively active (not lazily expired) and
// the scope must be explicitly granted.
func (g Grant) HasPermission(scope permission.Scope, now time.Time) bool {
	return g.EffectiveStatus(now) == StatusActive && g.Scope[scope]
}

// Approve transitions a pending grant to active. Only the subject may
// approve. The access window starts now: expiresAt is recomputed from
// timeWindowHours.
func (g Grant) Approve(actor uuid.UUID, now time.Time) (Grant, error) {
	if s := g.EffectiveStatus(now); s != StatusPending {
		return Grant{}, fmt.Errorf("%w: approve from %s", ErrInvalidTransition, s)
	}
	if actor != g.SubjectID {
		return Grant{}, fmt.Errorf("%w: only the subject may approve", ErrAccessDenied)
	}

	next := g
	next.Status = StatusActive
	grantedAt := now
	next.GrantedAt = &grantedAt
	next.ExpiresAt = now.Add(time.Duration(g.TimeWindowHours) * time.Hour)
	return next, nil
}

// Deny transitions a pending grant to the terminal denied state. Only the
// subject may deny.
func (g Grant) Deny(actor uuid.UUID, now time.Time) (Grant, error) {
	if s := g.EffectiveStatus(now); s != StatusPending {
		return Grant{}, fmt.Errorf("%w: deny from %s", ErrInvalidTransition, s)
	}
	if actor != g.SubjectID {
		return Grant{}, fmt.Errorf("%w: only the subject may deny", ErrAccessDenied)
	}

	next := g
	next.Status = StatusDenied
	deniedAt := now
	next.DeniedAt = &deniedAt
	return next, nil
}

// Revoke transitions an active grant to the terminal revoked state. The
// subject may always revoke; any other actor needs the revoke capability,
// and the caller is responsible for having checked that actor's membership
// in the grant's organization.
func (g Grant) Revoke(actor uuid.UUID, actorPerms permission.Set, now time.Time) (Grant, error) {
	if s := g.EffectiveStatus(now); s != StatusActive {
		return Grant{}, fmt.Errorf("%w: revoke from %s", ErrInvalidTransition, s)
	}
	if actor != g.SubjectID {
		if err := permission.ValidateGrantAction(actorPerms, permission.ActionRevoke); err != nil {
			return Grant{}, err
		}
	}

	next := g
	next.Status = StatusRevoked
	revokedAt := now
	next.RevokedAt = &revokedAt
	return next, nil
}

// Validate checks that every scope key is registered. Unknown names are
// rejected, never silently dropped.
func (s AccessScope) Validate() error {
	for scope := range s {
		if !permission.KnownScope(scope) {
			return fmt.Errorf("%w: %q", permission.ErrUnknownScope, scope)
		}
	}
	return nil
}

// GrantedScopes returns the scopes explicitly granted true, in registry order.
func (s AccessScope) GrantedScopes() []permission.Scope {
	var out []permission.Scope
	for _, scope := range permission.Scopes() {
		if s[scope] {
			out = append(out, scope)
		}
	}
	return out
}

// Clone returns an independent copy of the scope map.
func (s AccessScope) Clone() AccessScope {
	if s == nil {
		return nil
	}
	out := make(AccessScope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

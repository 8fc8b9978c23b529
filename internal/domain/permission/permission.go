// Package permission maps coarse patient-grantable access scopes to the
// fine-grained capabilities held by practitioners and organization members.
// The mapping is a closed, exhaustive lookup table: unknown scope names are
// reported, never silently ignored.
package permission

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownScope indicates a scope name that is not in the registry.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrMissingPermission indicates the caller does not hold the capability
	// required by a requested scope or grant action.
	ErrMissingPermission = errors.New("missing permission")

	// ErrUnknownAction indicates a grant action outside approve/deny/revoke.
	ErrUnknownAction = errors.New("unknown grant action")
)

// Scope is a named, patient-grantable access right.
type Scope string

const (
	ScopeViewMedicalHistory Scope = "viewMedicalHistory"
	ScopeViewPrescriptions  Scope = "viewPrescriptions"
	ScopeViewLabResults     Scope = "viewLabResults"
	ScopeViewImmunizations  Scope = "viewImmunizations"
	ScopeCreateEncounters   Scope = "createEncounters"
	ScopeViewAuditLogs      Scope = "viewAuditLogs"
)

// Key is a fine-grained capability held by a practitioner or membership.
type Key string

const (
	KeyAccessPatientRecords Key = "canAccessPatientRecords"
	KeyModifyPatientRecords Key = "canModifyPatientRecords"
	KeyApproveGrants        Key = "canApproveAuthorizationGrants"
	KeyRevokeGrants         Key = "canRevokeAuthorizationGrants"
	KeyRequestGrants        Key = "canRequestAuthorizationGrants"
	KeyViewAuditLogs        Key = "canViewAuditLogs"
)

// Action is a grant lifecycle action performed by an actor.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
	ActionRevoke  Action = "revoke"
)

// scopeRegistry is the exhaustive scope → required-capability table. Several
// scopes intentionally share a capability (many-to-one).
var scopeRegistry = map[Scope]Key{
	ScopeViewMedicalHistory: KeyAccessPatientRecords,
	ScopeViewPrescriptions:  KeyAccessPatientRecords,
	ScopeViewLabResults:     KeyAccessPatientRecords,
	ScopeViewImmunizations:  KeyAccessPatientRecords,
	ScopeCreateEncounters:   KeyModifyPatientRecords,
	ScopeViewAuditLogs:      KeyViewAuditLogs,
}

// scopeOrder fixes the iteration order for deterministic query results.
var scopeOrder = []Scope{
	ScopeViewMedicalHistory,
	ScopeViewPrescriptions,
	ScopeViewLabResults,
	ScopeViewImmunizations,
	ScopeCreateEncounters,
	ScopeViewAuditLogs,
}

// Set holds the boolean capabilities of a practitioner or organization
// member. It is owned by the membership record and read-only here.
type Set struct {
	AccessPatientRecords bool `db:"can_access_patient_records" json:"canAccessPatientRecords"`
	ModifyPatientRecords bool `db:"can_modify_patient_records" json:"canModifyPatientRecords"`
	ApproveGrants        bool `db:"can_approve_grants" json:"canApproveAuthorizationGrants"`
	RevokeGrants         bool `db:"can_revoke_grants" json:"canRevokeAuthorizationGrants"`
	RequestGrants        bool `db:"can_request_grants" json:"canRequestAuthorizationGrants"`
	ViewAuditLogs        bool `db:"can_view_audit_logs" json:"canViewAuditLogs"`
}

// Has reports whether the set holds the given capability. Unknown keys are
// never held.
func (s Set) Has(k Key) bool {
	switch k {
	case KeyAccessPatientRecords:
		return s.AccessPatientRecords
	case KeyModifyPatientRecords:
		return s.ModifyPatientRecords
	case KeyApproveGrants:
		return s.ApproveGrants
	case KeyRevokeGrants:
		return s.RevokeGrants
	case KeyRequestGrants:
		return s.RequestGrants
	case KeyViewAuditLogs:
		return s.ViewAuditLogs
	}
	return false
}

// RequiredPermission returns the capability required to exercise the given
// scope. The mapping is total over the registry and deterministic.
func RequiredPermission(scope Scope) (Key, error) {
	key, ok := scopeRegistry[scope]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	return key, nil
}

// KnownScope reports whether the scope name exists in the registry.
func KnownScope(scope Scope) bool {
	_, ok := scopeRegistry[scope]
	return ok
}

// Scopes returns every registered scope in stable order.
func Scopes() []Scope {
	out := make([]Scope, len(scopeOrder))
	copy(out, scopeOrder)
	return out
}

// Validation partitions a requested scope list into the scopes the caller may
// exercise, the capabilities the caller lacks, and the names that are not
// scopes at all. The three sets are disjoint.
type Validation struct {
	Granted            []Scope `json:"granted"`
	MissingPermissions []Key   `json:"missingPermissions"`
	InvalidScopes      []Scope `json:"invalidScopes"`
}

// Valid reports whether every requested scope was granted.
func (v Validation) Valid() bool {
	return len(v.MissingPermissions) == 0 && len(v.InvalidScopes) == 0
}

// ValidateScopes partitions requested against the caller's capability set.
// It never fails on unknown input; unknown names land in InvalidScopes.
func ValidateScopes(perms Set, requested []Scope) Validation {
	var v Validation
	seenMissing := make(map[Key]bool)
	for _, scope := range requested {
		key, ok := scopeRegistry[scope]
		if !ok {
			v.InvalidScopes = append(v.InvalidScopes, scope)
			continue
		}
		if !perms.Has(key) {
			if !seenMissing[key] {
				v.MissingPermissions = append(v.MissingPermissions, key)
				seenMissing[key] = true
			}
			continue
		}
		v.Granted = append(v.Granted, scope)
	}
	return v
}

// AuthorizedScopes returns every scope whose required capability the caller
// holds, in registry order. It is the inverse of RequiredPermission.
func AuthorizedScopes(perms Set) []Scope {
	var out []Scope
	for _, scope := range scopeOrder {
		if perms.Has(scopeRegistry[scope]) {
			out = append(out, scope)
		}
	}
	return out
}

// ValidateGrantAction checks whether the caller may perform a grant lifecycle
// action. Approve and deny both require the approval capability; revoke has
// its own. An unrecognized action is always rejected with a distinct error.
func ValidateGrantAction(perms Set, action Action) error {
	switch action {
	case ActionApprove, ActionDeny:
		if !perms.Has(KeyApproveGrants) {
			return fmt.Errorf("%w: %s requires %s", ErrMissingPermission, action, KeyApproveGrants)
		}
		return nil
	case ActionRevoke:
		if !perms.Has(KeyRevokeGrants) {
			return fmt.Errorf("%w: revoke requires %s", ErrMissingPermission, KeyRevokeGrants)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Group is a named bundle of scopes used for UI and policy checks.
type Group string

const (
	GroupPatientRead   Group = "PATIENT_READ"
	GroupPatientWrite  Group = "PATIENT_WRITE"
	GroupAuthorization Group = "AUTHORIZATION"
)

var groupRegistry = map[Group][]Scope{
	GroupPatientRead: {
		ScopeViewMedicalHistory,
		ScopeViewPrescriptions,
		ScopeViewLabResults,
		ScopeViewImmunizations,
	},
	GroupPatientWrite: {
		ScopeCreateEncounters,
	},
	GroupAuthorization: {
		ScopeViewAuditLogs,
	},
}

// GroupScopes returns the scopes bundled under the group name.
func GroupScopes(group Group) ([]Scope, error) {
	scopes, ok := groupRegistry[group]
	if !ok {
		return nil, fmt.Errorf("unknown permission group %q", group)
	}
	out := make([]Scope, len(scopes))
	copy(out, scopes)
	return out, nil
}

// HasPermissionGroup reports whether the caller holds the required capability
// for every scope in the group. Unknown groups are never held.
func HasPermissionGroup(perms Set, group Group) bool {
	scopes, ok := groupRegistry[group]
	if !ok {
		return false
	}
	for _, scope := range scopes {
		if !perms.Has(scopeRegistry[scope]) {
			return false
		}
	}
	return true
}

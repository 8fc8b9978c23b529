package grant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medigrant/medigrant/internal/domain/auditevent"
	"github.com/medigrant/medigrant/internal/domain/permission"
	"github.com/medigrant/medigrant/internal/domain/token"
	"github.com/medigrant/medigrant/internal/platform/cache"
)

// Token lifetimes. Identity tokens are short because a QR code on a phone
// screen is only ever scanned moments after it is rendered. Prescription
// tokens live at most thirty days regardless of what the caller asks for.
const (
	IdentityTokenTTL        = 5 * time.Minute
	AuthorizationRequestTTL = DecisionWindow
	MaxPrescriptionTTL      = 30 * 24 * time.Hour

	defaultTimeWindowHours = 24
	maxTimeWindowHours     = 24 * 365
)

// replayGuardTTL is how long a burned identity-token fingerprint is retained.
// It must cover the codec's full acceptance window (nominal TTL plus clock
// skew), or a token first seen near issuance could be replayed in the skew
// tail after the guard entry lapsed.
const replayGuardTTL = IdentityTokenTTL + token.ClockSkewTolerance

// Subject is a patient as the grant engine sees them. The directory resolves
// identity; the engine never stores subject PHI on the grant itself.
type Subject struct {
	ID                uuid.UUID
	DigitalIdentifier string
	Name              string
}

// Organization is a requesting care organization.
type Organization struct {
	ID       uuid.UUID
	Name     string
	Verified bool
}

// Practitioner is an organization member who requests or revokes grants.
type Practitioner struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	LicenseNumber  string
	Permissions    permission.Set
}

// Directory resolves subjects, organizations and practitioners. Implemented
// by the identity domain; defined here so the grant engine stays decoupled
// from its storage.
type Directory interface {
	SubjectByDigitalID(ctx context.Context, digitalID string) (*Subject, error)
	SubjectByID(ctx context.Context, id uuid.UUID) (*Subject, error)
	OrganizationByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	PractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
}

// Notifier delivers out-of-band notifications about grant lifecycle events.
// Delivery is best-effort; a failed notification never fails the operation.
type Notifier interface {
	SendAuthorizationRequest(ctx context.Context, subjectID uuid.UUID, g *Grant) error
	SendDecision(ctx context.Context, practitionerID uuid.UUID, g *Grant, decision Status) error
}

// Service orchestrates the consent flow: practitioners scan a patient's
// identity QR and request access, patients decide, organizations check
// access while the grant is live.
type Service struct {
	grants    Repository
	directory Directory
	codec     *token.Codec
	notifier  Notifier
	audit     auditevent.Repository
	replay    *cache.Cache
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService wires the grant engine. The replay cache guards identity tokens
// against reuse; fingerprint entries carry their own lifetime covering the
// full token acceptance window, so the cache's default TTL does not matter.
func NewService(
	grants Repository,
	directory Directory,
	codec *token.Codec,
	notifier Notifier,
	audit auditevent.Repository,
	replay *cache.Cache,
	logger zerolog.Logger,
) *Service {
	return &Service{
		grants:    grants,
		directory: directory,
		codec:     codec,
		notifier:  notifier,
		audit:     audit,
		replay:    replay,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateRequestInput carries everything a practitioner submits after
// scanning a patient's identity QR.
type CreateRequestInput struct {
	IdentityToken   string
	PractitionerID  uuid.UUID
	OrganizationID  uuid.UUID
	Scope           AccessScope
	TimeWindowHours int
	RequestIP       string
	UserAgent       string
}

// CreateRequest decodes the scanned identity token, authorizes the
// practitioner and creates a pending grant awaiting the patient's decision.
// The identity token is single-use: a second request with the same token is
// rejected even while the token is otherwise still valid.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*Grant, error) {
	now := s.now()

	var identity token.IdentityPayload
	if err := s.codec.Decode(in.IdentityToken, token.KindIdentity, &identity); err != nil {
		s.recordAudit(ctx, &auditevent.Event{
			Action:    auditevent.ActionGrantRequest,
			Outcome:   auditevent.OutcomeDenied,
			ActorID:   ptrUUID(in.PractitionerID),
			Detail:    "identity token rejected",
			RequestIP: in.RequestIP,
			UserAgent: in.UserAgent,
			Recorded:  now,
		})
		return nil, err
	}

	fingerprint := tokenFingerprint(in.IdentityToken)
	if _, seen := s.replay.Get(fingerprint); seen {
		s.logger.Warn().
			Str("practitioner_id", in.PractitionerID.String()).
			Msg("identity token replay attempt")
		return nil, ErrTokenReplay
	}

	subject, err := s.directory.SubjectByDigitalID(ctx, identity.DigitalIdentifier)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown subject", ErrAccessDenied)
	}

	org, err := s.directory.OrganizationByID(ctx, in.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown organization", ErrAccessDenied)
	}
	if !org.Verified {
		return nil, ErrOrganizationNotVerified
	}

	pract, err := s.directory.PractitionerByID(ctx, in.PractitionerID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown practitioner", ErrAccessDenied)
	}
	if pract.OrganizationID != org.ID {
		return nil, fmt.Errorf("%w: practitioner not in organization", ErrAccessDenied)
	}
	if !pract.Permissions.Has(permission.KeyRequestGrants) {
		return nil, fmt.Errorf("%w: %s", permission.ErrMissingPermission, permission.KeyRequestGrants)
	}

	if len(in.Scope) == 0 {
		return nil, fmt.Errorf("%w: empty access scope", ErrInvalidTransition)
	}
	if err := in.Scope.Validate(); err != nil {
		return nil, err
	}
	if v := permission.ValidateScopes(pract.Permissions, in.Scope.GrantedScopes()); !v.Valid() {
		return nil, fmt.Errorf("%w: %v", permission.ErrMissingPermission, v.MissingPermissions)
	}

	window := in.TimeWindowHours
	if window <= 0 {
		window = defaultTimeWindowHours
	}
	if window > maxTimeWindowHours {
		window = maxTimeWindowHours
	}

	g := &Grant{
		ID:               uuid.New(),
		SubjectID:        subject.ID,
		OrganizationID:   org.ID,
		PractitionerID:   pract.ID,
		Scope:            in.Scope.Clone(),
		Status:           StatusPending,
		TimeWindowHours:  window,
		CreatedAt:        now,
		ExpiresAt:        now.Add(DecisionWindow),
		RequestIP:        in.RequestIP,
		RequestUserAgent: in.UserAgent,
	}
	if err := s.grants.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}

	// Only burn the token once the request is actually persisted. The entry
	// lifetime is pinned here rather than inherited from the cache so the
	// guard holds regardless of how the cache was wired.
	s.replay.SetWithTTL(fingerprint, g.ID.String(), replayGuardTTL)

	if err := s.notifier.SendAuthorizationRequest(ctx, subject.ID, g); err != nil {
		s.logger.Warn().Err(err).
			Str("grant_id", g.ID.String()).
			Msg("authorization request notification failed")
	}

	s.recordAudit(ctx, &auditevent.Event{
		Action:         auditevent.ActionGrantRequest,
		Outcome:        auditevent.OutcomeSuccess,
		ActorID:        ptrUUID(pract.ID),
		GrantID:        ptrUUID(g.ID),
		SubjectID:      ptrUUID(subject.ID),
		OrganizationID: ptrUUID(org.ID),
		Detail:         fmt.Sprintf("scopes=%v window=%dh", in.Scope.GrantedScopes(), window),
		RequestIP:      in.RequestIP,
		UserAgent:      in.UserAgent,
		Recorded:       now,
	})

	return g, nil
}

// RespondToRequest applies the subject's decision to a pending grant.
// Action must be approve or deny. The write is a compare-and-set on the
// pending status; a concurrent decision is retried once against a fresh
// read, after which the conflict is surfaced.
func (s *Service) RespondToRequest(ctx context.Context, grantID, actor uuid.UUID, action permission.Action) (*Grant, error) {
	if action != permission.ActionApprove && action != permission.ActionDeny {
		return nil, fmt.Errorf("%w: %q", permission.ErrUnknownAction, action)
	}

	g, err := s.decideOnce(ctx, grantID, actor, action)
	if errors.Is(err, ErrConflict) {
		g, err = s.decideOnce(ctx, grantID, actor, action)
	}
	if err != nil {
		return nil, err
	}

	pract, lookupErr := s.directory.PractitionerByID(ctx, g.PractitionerID)
	if lookupErr == nil {
		if nerr := s.notifier.SendDecision(ctx, pract.ID, g, g.Status); nerr != nil {
			s.logger.Warn().Err(nerr).
				Str("grant_id", g.ID.String()).
				Msg("decision notification failed")
		}
	}

	auditAction := auditevent.ActionGrantApprove
	if action == permission.ActionDeny {
		auditAction = auditevent.ActionGrantDeny
	}
	s.recordAudit(ctx, &auditevent.Event{
		Action:         auditAction,
		Outcome:        auditevent.OutcomeSuccess,
		ActorID:        ptrUUID(actor),
		GrantID:        ptrUUID(g.ID),
		SubjectID:      ptrUUID(g.SubjectID),
		OrganizationID: ptrUUID(g.OrganizationID),
		Recorded:       s.now(),
	})

	return g, nil
}

// decideOnce reads the grant, applies the transition and attempts the CAS
// write exactly once.
func (s *Service) decideOnce(ctx context.Context, grantID, actor uuid.UUID, action permission.Action) (*Grant, error) {
	stored, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var next Grant
	switch action {
	case permission.ActionApprove:
		next, err = stored.Approve(actor, now)
	case permission.ActionDeny:
		next, err = stored.Deny(actor, now)
	}
	if err != nil {
		return nil, err
	}

	if err := s.grants.UpdateStatus(ctx, &next, StatusPending); err != nil {
		return nil, err
	}
	return &next, nil
}

// RevokeGrant moves an active grant to the terminal revoked state. The
// subject may always revoke their own grant; a practitioner needs the revoke
// capability and membership in the grant's organization.
func (s *Service) RevokeGrant(ctx context.Context, grantID, actor uuid.UUID) (*Grant, error) {
	stored, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	var actorPerms permission.Set
	if actor != stored.SubjectID {
		pract, err := s.directory.PractitionerByID(ctx, actor)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown actor", ErrAccessDenied)
		}
		if pract.OrganizationID != stored.OrganizationID {
			return nil, fmt.Errorf("%w: actor not in grant organization", ErrAccessDenied)
		}
		actorPerms = pract.Permissions
	}

	now := s.now()
	next, err := stored.Revoke(actor, actorPerms, now)
	if err != nil {
		return nil, err
	}

	if err := s.grants.UpdateStatus(ctx, &next, StatusActive); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, &auditevent.Event{
		Action:         auditevent.ActionGrantRevoke,
		Outcome:        auditevent.OutcomeSuccess,
		ActorID:        ptrUUID(actor),
		GrantID:        ptrUUID(next.ID),
		SubjectID:      ptrUUID(next.SubjectID),
		OrganizationID: ptrUUID(next.OrganizationID),
		Recorded:       now,
	})

	return &next, nil
}

// CheckAccess is the single gate every record access goes through. It
// returns the grant authorizing the access, or ErrAccessDenied. Denied,
// expired, revoked and nonexistent grants are indistinguishable to the
// caller. When several active grants cover the scope, the most recently
// approved one wins.
func (s *Service) CheckAccess(ctx context.Context, subjectID, orgID uuid.UUID, scope permission.Scope) (*Grant, error) {
	now := s.now()

	outcome := auditevent.OutcomeDenied
	defer func() {
		s.recordAudit(ctx, &auditevent.Event{
			Action:         auditevent.ActionAccessCheck,
			Outcome:        outcome,
			SubjectID:      ptrUUID(subjectID),
			OrganizationID: ptrUUID(orgID),
			Scope:          string(scope),
			Recorded:       now,
		})
	}()

	if !permission.KnownScope(scope) {
		return nil, ErrAccessDenied
	}

	grants, err := s.grants.FindBySubjectAndOrganization(ctx, subjectID, orgID)
	if err != nil {
		outcome = auditevent.OutcomeError
		return nil, fmt.Errorf("find grants: %w", err)
	}

	var winner *Grant
	for _, g := range grants {
		if !g.HasPermission(scope, now) {
			continue
		}
		if winner == nil || laterGranted(g, winner) {
			winner = g
		}
	}
	if winner == nil {
		return nil, ErrAccessDenied
	}

	outcome = auditevent.OutcomeSuccess
	return winner, nil
}

// laterGranted reports whether a was approved more recently than b.
func laterGranted(a, b *Grant) bool {
	if a.GrantedAt == nil {
		return false
	}
	if b.GrantedAt == nil {
		return true
	}
	return a.GrantedAt.After(*b.GrantedAt)
}

// GetGrant returns a grant with its status interpreted lazily at read time.
// Only the subject and members of the requesting organization may read it;
// knowing a grant id alone grants nothing.
func (s *Service) GetGrant(ctx context.Context, grantID, actor uuid.UUID) (*Grant, error) {
	g, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeGrantRead(ctx, g, actor); err != nil {
		return nil, err
	}
	g.Status = g.EffectiveStatus(s.now())
	return g, nil
}

// authorizeGrantRead checks that actor is a party to the grant: the subject
// always is; anyone else must be a practitioner in the grant's organization.
func (s *Service) authorizeGrantRead(ctx context.Context, g *Grant, actor uuid.UUID) error {
	if actor == g.SubjectID {
		return nil
	}
	pract, err := s.directory.PractitionerByID(ctx, actor)
	if err != nil {
		return fmt.Errorf("%w: unknown actor", ErrAccessDenied)
	}
	if pract.OrganizationID != g.OrganizationID {
		return fmt.Errorf("%w: actor not in grant organization", ErrAccessDenied)
	}
	return nil
}

// ListPending returns an organization's pending requests, excluding those
// whose decision window has lapsed.
func (s *Service) ListPending(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	grants, total, err := s.grants.ListByOrganization(ctx, orgID, StatusPending, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return s.filterEffective(grants, StatusPending), total, nil
}

// ListActive returns a subject's currently exercisable grants, excluding
// those that have lazily expired.
func (s *Service) ListActive(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	grants, total, err := s.grants.ListBySubject(ctx, subjectID, StatusActive, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return s.filterEffective(grants, StatusActive), total, nil
}

func (s *Service) filterEffective(grants []*Grant, want Status) []*Grant {
	now := s.now()
	out := make([]*Grant, 0, len(grants))
	for _, g := range grants {
		if g.EffectiveStatus(now) == want {
			out = append(out, g)
		}
	}
	return out
}

// IssueIdentityToken mints the short-lived QR token a patient presents to a
// practitioner.
func (s *Service) IssueIdentityToken(ctx context.Context, subjectID uuid.UUID) (string, error) {
	subject, err := s.directory.SubjectByID(ctx, subjectID)
	if err != nil {
		return "", err
	}

	tok, err := s.codec.Encode(token.IdentityPayload{
		DigitalIdentifier: subject.DigitalIdentifier,
		Timestamp:         s.now(),
	}, token.KindIdentity, IdentityTokenTTL)
	if err != nil {
		return "", err
	}

	s.recordAudit(ctx, &auditevent.Event{
		Action:    auditevent.ActionIdentityToken,
		Outcome:   auditevent.OutcomeSuccess,
		ActorID:   ptrUUID(subjectID),
		SubjectID: ptrUUID(subjectID),
		Recorded:  s.now(),
	})
	return tok, nil
}

// IssueAuthorizationRequestToken mints the token an organization embeds in
// its pending-request QR so the patient's app can fetch and decide it. Only
// parties to the grant may mint it.
func (s *Service) IssueAuthorizationRequestToken(ctx context.Context, grantID, actor uuid.UUID) (string, error) {
	g, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return "", err
	}
	if err := s.authorizeGrantRead(ctx, g, actor); err != nil {
		return "", err
	}
	if g.EffectiveStatus(s.now()) != StatusPending {
		return "", fmt.Errorf("%w: grant is not pending", ErrInvalidTransition)
	}

	return s.codec.Encode(token.AuthorizationRequestPayload{
		GrantID:        g.ID,
		UserID:         g.SubjectID,
		OrganizationID: g.OrganizationID,
		AccessScope:    g.Scope,
	}, token.KindAuthorizationRequest, AuthorizationRequestTTL)
}

// PrescriptionInput describes one prescription to tokenize.
type PrescriptionInput struct {
	EncounterID       uuid.UUID
	PrescriptionIndex int
	Medication        token.Medication
	SubjectID         uuid.UUID
	PrescriberID      uuid.UUID
	TTL               time.Duration
}

// IssuePrescriptionToken mints a self-contained, signed prescription token a
// pharmacy can verify offline. The prescriber's organization must hold an
// active grant covering encounter creation for the subject. The requested
// TTL is clamped to thirty days.
func (s *Service) IssuePrescriptionToken(ctx context.Context, in PrescriptionInput) (string, error) {
	pract, err := s.directory.PractitionerByID(ctx, in.PrescriberID)
	if err != nil {
		return "", fmt.Errorf("%w: unknown prescriber", ErrAccessDenied)
	}
	org, err := s.directory.OrganizationByID(ctx, pract.OrganizationID)
	if err != nil {
		return "", fmt.Errorf("%w: unknown organization", ErrAccessDenied)
	}
	subject, err := s.directory.SubjectByID(ctx, in.SubjectID)
	if err != nil {
		return "", fmt.Errorf("%w: unknown subject", ErrAccessDenied)
	}

	if _, err := s.CheckAccess(ctx, subject.ID, org.ID, permission.ScopeCreateEncounters); err != nil {
		return "", err
	}

	ttl := in.TTL
	if ttl <= 0 || ttl > MaxPrescriptionTTL {
		ttl = MaxPrescriptionTTL
	}

	tok, err := s.codec.Encode(token.PrescriptionPayload{
		EncounterID:       in.EncounterID,
		PrescriptionIndex: in.PrescriptionIndex,
		Medication:        in.Medication,
		Patient:           token.PrescriptionPatient{DigitalID: subject.DigitalIdentifier},
		Prescriber:        token.Prescriber{ID: pract.ID, LicenseNumber: pract.LicenseNumber},
		Organization:      token.PrescribingOrganization{ID: org.ID, Name: org.Name},
	}, token.KindPrescription, ttl)
	if err != nil {
		return "", err
	}

	s.recordAudit(ctx, &auditevent.Event{
		Action:         auditevent.ActionPrescriptionToken,
		Outcome:        auditevent.OutcomeSuccess,
		ActorID:        ptrUUID(pract.ID),
		SubjectID:      ptrUUID(subject.ID),
		OrganizationID: ptrUUID(org.ID),
		Detail:         fmt.Sprintf("encounter=%s index=%d", in.EncounterID, in.PrescriptionIndex),
		Recorded:       s.now(),
	})
	return tok, nil
}

// recordAudit appends an audit event, logging rather than failing the
// operation when the audit store is unavailable.
func (s *Service) recordAudit(ctx context.Context, e *auditevent.Event) {
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Error().Err(err).
			Str("action", e.Action).
			Msg("audit record failed")
	}
}

// tokenFingerprint derives the replay-cache key from the raw token string.
func tokenFingerprint(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

func ptrUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

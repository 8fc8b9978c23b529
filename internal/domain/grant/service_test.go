package grant

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medigrant/medigrant/internal/domain/auditevent"
	"github.com/medigrant/medigrant/internal/domain/permission"
	"github.com/medigrant/medigrant/internal/domain/token"
	"github.com/medigrant/medigrant/internal/platform/cache"
	"github.com/medigrant/medigrant/internal/platform/crypto"
)

type mockDirectory struct {
	subjects      map[string]*Subject
	subjectsByID  map[uuid.UUID]*Subject
	organizations map[uuid.UUID]*Organization
	practitioners map[uuid.UUID]*Practitioner
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		subjects:      make(map[string]*Subject),
		subjectsByID:  make(map[uuid.UUID]*Subject),
		organizations: make(map[uuid.UUID]*Organization),
		practitioners: make(map[uuid.UUID]*Practitioner),
	}
}

func (d *mockDirectory) addSubject(s *Subject) {
	d.subjects[s.DigitalIdentifier] = s
	d.subjectsByID[s.ID] = s
}

func (d *mockDirectory) SubjectByDigitalID(_ context.Context, digitalID string) (*Subject, error) {
	s, ok := d.subjects[digitalID]
	if !ok {
		return nil, errors.New("subject not found")
	}
	return s, nil
}

func (d *mockDirectory) SubjectByID(_ context.Context, id uuid.UUID) (*Subject, error) {
	s, ok := d.subjectsByID[id]
	if !ok {
		return nil, errors.New("subject not found")
	}
	return s, nil
}

func (d *mockDirectory) OrganizationByID(_ context.Context, id uuid.UUID) (*Organization, error) {
	o, ok := d.organizations[id]
	if !ok {
		return nil, errors.New("organization not found")
	}
	return o, nil
}

func (d *mockDirectory) PractitionerByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	p, ok := d.practitioners[id]
	if !ok {
		return nil, errors.New("practitioner not found")
	}
	return p, nil
}

type mockNotifier struct {
	requests  []uuid.UUID
	decisions []Status
	fail      bool
}

func (n *mockNotifier) SendAuthorizationRequest(_ context.Context, subjectID uuid.UUID, _ *Grant) error {
	if n.fail {
		return errors.New("notification channel down")
	}
	n.requests = append(n.requests, subjectID)
	return nil
}

func (n *mockNotifier) SendDecision(_ context.Context, _ uuid.UUID, _ *Grant, decision Status) error {
	if n.fail {
		return errors.New("notification channel down")
	}
	n.decisions = append(n.decisions, decision)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *InMemoryRepo
	dir      *mockDirectory
	notifier *mockNotifier
	audit    *auditevent.InMemoryRepo
	codec    *token.Codec
	subject  *Subject
	org      *Organization
	pract    *Practitioner
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	signer, err := crypto.NewHMACSigner(bytes.Repeat([]byte("k"), 32), "test-key")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	logger := zerolog.Nop()
	codec := token.NewCodec(signer, logger)

	dir := newMockDirectory()
	subject := &Subject{ID: uuid.New(), DigitalIdentifier: "MG-1234-5678", Name: "Ada"}
	dir.addSubject(subject)
	org := &Organization{ID: uuid.New(), Name: "Northside Clinic", Verified: true}
	dir.organizations[org.ID] = org
	pract := &Practitioner{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		LicenseNumber:  "LIC-99",
		Permissions: permission.Set{
			AccessPatientRecords: true,
			ModifyPatientRecords: true,
			RequestGrants:        true,
			RevokeGrants:         true,
		},
	}
	dir.practitioners[pract.ID] = pract

	repo := NewInMemoryRepo()
	notifier := &mockNotifier{}
	audit := auditevent.NewInMemoryRepo()

	svc := NewService(repo, dir, codec, notifier, audit, cache.New(64, time.Hour), logger)

	now := time.Now()
	svc.now = func() time.Time { return now }

	return &fixture{
		svc:      svc,
		repo:     repo,
		dir:      dir,
		notifier: notifier,
		audit:    audit,
		codec:    codec,
		subject:  subject,
		org:      org,
		pract:    pract,
		clock:    &now,
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) identityToken(t *testing.T) string {
	t.Helper()
	tok, err := f.svc.IssueIdentityToken(context.Background(), f.subject.ID)
	if err != nil {
		t.Fatalf("issue identity token: %v", err)
	}
	return tok
}

func (f *fixture) createRequest(t *testing.T, scope AccessScope) *Grant {
	t.Helper()
	g, err := f.svc.CreateRequest(context.Background(), CreateRequestInput{
		IdentityToken:   f.identityToken(t),
		PractitionerID:  f.pract.ID,
		OrganizationID:  f.org.ID,
		Scope:           scope,
		TimeWindowHours: 48,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return g
}

func TestCreateRequestProducesPendingGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})

	if g.Status != StatusPending {
		t.Fatalf("status = %s, want pending", g.Status)
	}
	if g.SubjectID != f.subject.ID || g.OrganizationID != f.org.ID {
		t.Fatalf("grant links wrong parties: %+v", g)
	}
	if want := f.clock.Add(DecisionWindow); !g.ExpiresAt.Equal(want) {
		t.Fatalf("decision deadline = %v, want %v", g.ExpiresAt, want)
	}

	if len(f.notifier.requests) != 1 || f.notifier.requests[0] != f.subject.ID {
		t.Fatalf("subject not notified: %v", f.notifier.requests)
	}

	stored, err := f.repo.GetByID(ctx, g.ID)
	if err != nil {
		t.Fatalf("stored grant: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("stored status = %s", stored.Status)
	}
}

func TestCreateRequestRejectsReplayedIdentityToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok := f.identityToken(t)
	in := CreateRequestInput{
		IdentityToken:  tok,
		PractitionerID: f.pract.ID,
		OrganizationID: f.org.ID,
		Scope:          AccessScope{permission.ScopeViewMedicalHistory: true},
	}

	if _, err := f.svc.CreateRequest(ctx, in); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := f.svc.CreateRequest(ctx, in); !errors.Is(err, ErrTokenReplay) {
		t.Fatalf("second use: err = %v, want ErrTokenReplay", err)
	}
}

func TestCreateRequestReplayGuardOutlivesCacheDefaultTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A guard cache wired with a default TTL shorter than the token's
	// remaining acceptance window (nominal TTL plus clock skew) must not
	// forget a burned token while the codec still accepts it.
	svc := NewService(f.repo, f.dir, f.codec, f.notifier, f.audit,
		cache.New(64, time.Millisecond), zerolog.Nop())

	in := CreateRequestInput{
		IdentityToken:  f.identityToken(t),
		PractitionerID: f.pract.ID,
		OrganizationID: f.org.ID,
		Scope:          AccessScope{permission.ScopeViewMedicalHistory: true},
	}
	if _, err := svc.CreateRequest(ctx, in); err != nil {
		t.Fatalf("first use: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := svc.CreateRequest(ctx, in); !errors.Is(err, ErrTokenReplay) {
		t.Fatalf("reuse after cache default TTL: err = %v, want ErrTokenReplay", err)
	}
}

func TestCreateRequestRejectsUnverifiedOrganization(t *testing.T) {
	f := newFixture(t)
	f.org.Verified = false

	_, err := f.svc.CreateRequest(context.Background(), CreateRequestInput{
		IdentityToken:  f.identityToken(t),
		PractitionerID: f.pract.ID,
		OrganizationID: f.org.ID,
		Scope:          AccessScope{permission.ScopeViewMedicalHistory: true},
	})
	if !errors.Is(err, ErrOrganizationNotVerified) {
		t.Fatalf("err = %v, want ErrOrganizationNotVerified", err)
	}
}

func TestCreateRequestRejectsPractitionerOutsideOrganization(t *testing.T) {
	f := newFixture(t)
	otherOrg := &Organization{ID: uuid.New(), Name: "Elsewhere", Verified: true}
	f.dir.organizations[otherOrg.ID] = otherOrg

	_, err := f.svc.CreateRequest(context.Background(), CreateRequestInput{
		IdentityToken:  f.identityToken(t),
		PractitionerID: f.pract.ID,
		OrganizationID: otherOrg.ID,
		Scope:          AccessScope{permission.ScopeViewMedicalHistory: true},
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestCreateRequestRejectsScopesBeyondPractitionerCapability(t *testing.T) {
	f := newFixture(t)
	f.pract.Permissions.ModifyPatientRecords = false

	_, err := f.svc.CreateRequest(context.Background(), CreateRequestInput{
		IdentityToken:  f.identityToken(t),
		PractitionerID: f.pract.ID,
		OrganizationID: f.org.ID,
		Scope:          AccessScope{permission.ScopeCreateEncounters: true},
	})
	if !errors.Is(err, permission.ErrMissingPermission) {
		t.Fatalf("err = %v, want ErrMissingPermission", err)
	}
}

func TestCreateRequestRejectsUnknownScope(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateRequest(context.Background(), CreateRequestInput{
		IdentityToken:  f.identityToken(t),
		PractitionerID: f.pract.ID,
		OrganizationID: f.org.ID,
		Scope:          AccessScope{permission.Scope("viewEverything"): true},
	})
	if !errors.Is(err, permission.ErrUnknownScope) {
		t.Fatalf("err = %v, want ErrUnknownScope", err)
	}
}

func TestRespondToRequestApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})

	f.advance(2 * time.Hour)
	decided, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided.Status != StatusActive {
		t.Fatalf("status = %s, want active", decided.Status)
	}
	if want := f.clock.Add(48 * time.Hour); !decided.ExpiresAt.Equal(want) {
		t.Fatalf("access window end = %v, want %v", decided.ExpiresAt, want)
	}
	if len(f.notifier.decisions) != 1 || f.notifier.decisions[0] != StatusActive {
		t.Fatalf("requester not notified of decision: %v", f.notifier.decisions)
	}
}

func TestRespondToRequestRejectsNonSubject(t *testing.T) {
	f := newFixture(t)
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})

	_, err := f.svc.RespondToRequest(context.Background(), g.ID, f.pract.ID, permission.ActionDeny)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestRespondToRequestConcurrentDecisionsOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})

	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// A second decision arriving after the first settled finds the grant no
	// longer pending; the retry re-reads and reports the illegal transition.
	_, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionDeny)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	stored, _ := f.repo.GetByID(ctx, g.ID)
	if stored.Status != StatusActive {
		t.Fatalf("stored status = %s, want active", stored.Status)
	}
}

func TestCheckAccessGrantedScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	got, err := f.svc.CheckAccess(ctx, f.subject.ID, f.org.ID, permission.ScopeViewMedicalHistory)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if got.ID != g.ID {
		t.Fatalf("authorizing grant = %s, want %s", got.ID, g.ID)
	}
}

func TestCheckAccessDeniesScopeSetFalse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{
		permission.ScopeViewMedicalHistory: true,
		permission.ScopeViewLabResults:     false,
	})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.svc.CheckAccess(ctx, f.subject.ID, f.org.ID, permission.ScopeViewLabResults); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestCheckAccessDeniedAfterWindowExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	f.advance(48*time.Hour + time.Minute)
	if _, err := f.svc.CheckAccess(ctx, f.subject.ID, f.org.ID, permission.ScopeViewMedicalHistory); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestCheckAccessDeniedAfterRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.RevokeGrant(ctx, g.ID, f.subject.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := f.svc.CheckAccess(ctx, f.subject.ID, f.org.ID, permission.ScopeViewMedicalHistory); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestCheckAccessUniformDenialForUnknownParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No grant exists at all; the error is the same ErrAccessDenied a
	// revoked or expired grant produces.
	if _, err := f.svc.CheckAccess(ctx, uuid.New(), f.org.ID, permission.ScopeViewMedicalHistory); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
	// Unknown scope names deny rather than error.
	if _, err := f.svc.CheckAccess(ctx, f.subject.ID, f.org.ID, permission.Scope("nope")); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestCheckAccessMostRecentGrantWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, first.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve first: %v", err)
	}

	f.advance(time.Hour)
	second := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, second.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve second: %v", err)
	}

	got, err := f.svc.CheckAccess(ctx, f.subject.ID, f.org.ID, permission.ScopeViewMedicalHistory)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("winner = %s, want the more recently approved %s", got.ID, second.ID)
	}
}

func TestRevokeByPractitionerWithCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	revoked, err := f.svc.RevokeGrant(ctx, g.ID, f.pract.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != StatusRevoked {
		t.Fatalf("status = %s, want revoked", revoked.Status)
	}
}

func TestRevokeByOutsiderDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.svc.RevokeGrant(ctx, g.ID, uuid.New()); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestListPendingExcludesLapsedRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	f.advance(DecisionWindow + time.Minute)
	fresh := f.createRequest(t, AccessScope{permission.ScopeViewLabResults: true})

	pending, _, err := f.svc.ListPending(ctx, f.org.ID, 0, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Fatalf("pending = %v, want only the fresh request", pending)
	}
}

func TestListActiveExcludesExpiredGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	active, _, err := f.svc.ListActive(ctx, f.subject.ID, 0, 0)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}

	f.advance(49 * time.Hour)
	active, _, err = f.svc.ListActive(ctx, f.subject.ID, 0, 0)
	if err != nil {
		t.Fatalf("list active after expiry: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active after expiry = %d, want 0", len(active))
	}
}

func TestNotificationFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = true

	g, err := f.svc.CreateRequest(context.Background(), CreateRequestInput{
		IdentityToken:  f.identityToken(t),
		PractitionerID: f.pract.ID,
		OrganizationID: f.org.ID,
		Scope:          AccessScope{permission.ScopeViewMedicalHistory: true},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if g.Status != StatusPending {
		t.Fatalf("status = %s", g.Status)
	}
}

func TestIssueAuthorizationRequestTokenRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})

	tok, err := f.svc.IssueAuthorizationRequestToken(ctx, g.ID, f.pract.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var p token.AuthorizationRequestPayload
	if err := f.codec.Decode(tok, token.KindAuthorizationRequest, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.GrantID != g.ID || p.UserID != f.subject.ID || p.OrganizationID != f.org.ID {
		t.Fatalf("payload = %+v", p)
	}
}

func TestIssueAuthorizationRequestTokenRequiresPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionDeny); err != nil {
		t.Fatalf("deny: %v", err)
	}

	if _, err := f.svc.IssueAuthorizationRequestToken(ctx, g.ID, f.pract.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestGetGrantLimitedToParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})

	// Subject and requesting organization's practitioner may read.
	if _, err := f.svc.GetGrant(ctx, g.ID, f.subject.ID); err != nil {
		t.Fatalf("subject read: %v", err)
	}
	if _, err := f.svc.GetGrant(ctx, g.ID, f.pract.ID); err != nil {
		t.Fatalf("practitioner read: %v", err)
	}

	// A practitioner from another organization who learned the id may not.
	otherOrg := &Organization{ID: uuid.New(), Name: "Elsewhere", Verified: true}
	f.dir.organizations[otherOrg.ID] = otherOrg
	outsider := &Practitioner{
		ID:             uuid.New(),
		OrganizationID: otherOrg.ID,
		Permissions:    permission.Set{AccessPatientRecords: true},
	}
	f.dir.practitioners[outsider.ID] = outsider

	if _, err := f.svc.GetGrant(ctx, g.ID, outsider.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("outsider read: err = %v, want ErrAccessDenied", err)
	}
	if _, err := f.svc.GetGrant(ctx, g.ID, uuid.New()); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("unknown actor read: err = %v, want ErrAccessDenied", err)
	}
	if _, err := f.svc.IssueAuthorizationRequestToken(ctx, g.ID, outsider.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("outsider token mint: err = %v, want ErrAccessDenied", err)
	}
}

func TestIssuePrescriptionTokenRequiresActiveEncounterGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := PrescriptionInput{
		EncounterID:       uuid.New(),
		PrescriptionIndex: 0,
		Medication:        token.Medication{Name: "Amoxicillin", Dosage: "500mg", Frequency: "3x daily"},
		SubjectID:         f.subject.ID,
		PrescriberID:      f.pract.ID,
	}

	if _, err := f.svc.IssuePrescriptionToken(ctx, in); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("without grant: err = %v, want ErrAccessDenied", err)
	}

	g := f.createRequest(t, AccessScope{permission.ScopeCreateEncounters: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}

	tok, err := f.svc.IssuePrescriptionToken(ctx, in)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var p token.PrescriptionPayload
	if err := f.codec.Decode(tok, token.KindPrescription, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Patient.DigitalID != f.subject.DigitalIdentifier {
		t.Fatalf("patient = %+v", p.Patient)
	}
	if p.Prescriber.LicenseNumber != "LIC-99" {
		t.Fatalf("prescriber = %+v", p.Prescriber)
	}
}

func TestAuditTrailCoversLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.createRequest(t, AccessScope{permission.ScopeViewMedicalHistory: true})
	if _, err := f.svc.RespondToRequest(ctx, g.ID, f.subject.ID, permission.ActionApprove); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.CheckAccess(ctx, f.subject.ID, f.org.ID, permission.ScopeViewMedicalHistory); err != nil {
		t.Fatalf("check access: %v", err)
	}
	if _, err := f.svc.RevokeGrant(ctx, g.ID, f.subject.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	want := map[string]bool{
		auditevent.ActionIdentityToken: false,
		auditevent.ActionGrantRequest:  false,
		auditevent.ActionGrantApprove:  false,
		auditevent.ActionAccessCheck:   false,
		auditevent.ActionGrantRevoke:   false,
	}
	for _, e := range f.audit.All() {
		if _, ok := want[e.Action]; ok {
			want[e.Action] = true
		}
	}
	for action, seen := range want {
		if !seen {
			t.Errorf("no audit event recorded for %s", action)
		}
	}
}

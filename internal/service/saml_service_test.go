package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/theblackhat55/aria51a-sub006/internal/model"
	"github.com/theblackhat55/aria51a-sub006/internal/saml"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samlFixture struct {
	userRepo  *fakeUserRepo
	roleRepo  *fakeRoleRepo
	auditRepo *fakeAuditRepo
	samlRepo  *fakeSAMLRepo
	roles     RoleService
	svc       SAMLService
}

func newSAMLFixture(cfg *model.SAMLConfig, validator saml.AssertionValidator) *samlFixture {
	f := &samlFixture{
		userRepo:  newFakeUserRepo(),
		roleRepo:  newFakeRoleRepo(),
		auditRepo: &fakeAuditRepo{},
		samlRepo:  newFakeSAMLRepo(cfg),
	}
	security := NewSecurityService(f.userRepo, f.auditRepo, fakeTxManager{}, nil)
	f.roles = NewRoleService(f.roleRepo, f.userRepo, f.auditRepo, fakeTxManager{}, nil)
	f.svc = NewSAMLServiceWithValidator(
		f.samlRepo, f.userRepo, f.roleRepo, f.roles, security,
		f.auditRepo, fakeTxManager{}, nil, factoryFor(validator),
	)
	return f
}

func enabledSAMLConfig() *model.SAMLConfig {
	return &model.SAMLConfig{
		ID:                      uuid.New(),
		Enabled:                 true,
		IdPSSOURL:               "https://idp.example.com/sso",
		IdPEntityID:             "https://idp.example.com",
		SPEntityID:              "https://app.example.com",
		ACSURL:                  "https://app.example.com/api/saml/acs",
		AutoProvision:           true,
		RequireSignedAssertions: true,
		DefaultRole:             "user",
		AttributeMapping:        model.AttributeMapping{},
	}
}

func TestProcessAssertionProvisionsNewUser(t *testing.T) {
	identity := &saml.FederatedIdentity{
		SubjectID: "subj-1",
		Email:     "jane@corp.example.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Groups:    []string{"ARIA5-Administrators"},
	}
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: identity})

	f.roleRepo.put(model.Role{Name: "user", IsSystem: true})
	adminRole := f.roleRepo.put(model.Role{Name: "admin", IsSystem: true, Permissions: model.PermissionSet{"admin": {"all": true}}})
	require.NoError(t, f.samlRepo.UpsertGroupMapping(context.Background(), &model.GroupRoleMapping{
		GroupName: "ARIA5-Administrators",
		RoleID:    adminRole.ID,
	}))

	result, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)

	assert.True(t, result.Provisioned)
	assert.Equal(t, "/dashboard", result.RedirectTo)

	user := result.User
	assert.Equal(t, "jane", user.Username, "username derives from the email local part")
	assert.Equal(t, model.AuthTypeSAML, user.AuthType)
	require.NotNil(t, user.SAMLSubjectID)
	assert.Equal(t, "subj-1", *user.SAMLSubjectID)
	assert.Equal(t, "Jane", user.FirstName)

	assignments, err := f.roles.ListUserAssignments(context.Background(), user.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		names = append(names, a.RoleName)
		assert.Equal(t, "system", a.AssignedBy, "federation never attributes assignments to a human")
	}
	assert.ElementsMatch(t, []string{"user", "admin"}, names)

	assert.Equal(t, 1, f.auditRepo.countAction(model.ActionSAMLUserProvisioned))
}

func TestProcessAssertionSecondLoginMatchesExisting(t *testing.T) {
	identity := &saml.FederatedIdentity{SubjectID: "subj-2", Email: "mark@corp.example.com"}
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: identity})
	f.roleRepo.put(model.Role{Name: "user", IsSystem: true})

	first, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)
	require.True(t, first.Provisioned)

	second, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)
	assert.False(t, second.Provisioned)
	assert.Equal(t, first.User.ID, second.User.ID)

	assert.Len(t, f.userRepo.users, 1, "a returning subject must not create a second account")
	assert.Equal(t, 1, f.auditRepo.countAction(model.ActionSAMLUserProvisioned))
	assert.Equal(t, 1, f.auditRepo.countAction(model.ActionSSOLoginSuccess))
}

func TestProcessAssertionMatchesByEmailWhenSubjectRotates(t *testing.T) {
	identity := &saml.FederatedIdentity{SubjectID: "subj-new", Email: "ana@corp.example.com"}
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: identity})
	f.roleRepo.put(model.Role{Name: "user", IsSystem: true})

	oldSubject := "subj-old"
	existing := f.userRepo.put(model.User{
		Username:      "ana",
		Email:         "ana@corp.example.com",
		AuthType:      model.AuthTypeSAML,
		SAMLSubjectID: &oldSubject,
	})

	result, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)

	assert.False(t, result.Provisioned)
	assert.Equal(t, existing.ID, result.User.ID)
	require.NotNil(t, result.User.SAMLSubjectID)
	assert.Equal(t, "subj-new", *result.User.SAMLSubjectID, "the stored subject follows the IdP")
}

func TestProcessAssertionSubjectMatchWinsOverEmail(t *testing.T) {
	identity := &saml.FederatedIdentity{SubjectID: "subj-11", Email: "shared@corp.example.com"}
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: identity})
	f.roleRepo.put(model.Role{Name: "user", IsSystem: true})

	// One account already holds the asserted subject id; a different account
	// holds the asserted email under its own subject.
	assertedSubject := "subj-11"
	bySubject := f.userRepo.put(model.User{
		Username:      "holder",
		Email:         "holder@corp.example.com",
		AuthType:      model.AuthTypeSAML,
		SAMLSubjectID: &assertedSubject,
	})
	otherSubject := "zulu-99"
	byEmail := f.userRepo.put(model.User{
		Username:      "mailbox",
		Email:         "shared@corp.example.com",
		AuthType:      model.AuthTypeSAML,
		SAMLSubjectID: &otherSubject,
	})

	result, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)

	assert.Equal(t, bySubject.ID, result.User.ID, "the subject-id match must beat the email match")

	// The email-matched account keeps its own subject untouched.
	stored, err := f.userRepo.GetByID(context.Background(), byEmail.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SAMLSubjectID)
	assert.Equal(t, "zulu-99", *stored.SAMLSubjectID)
}

func TestProcessAssertionDisabled(t *testing.T) {
	cfg := enabledSAMLConfig()
	cfg.Enabled = false
	f := newSAMLFixture(cfg, &fakeValidator{identity: &saml.FederatedIdentity{Email: "x@y.z"}})

	_, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	assert.ErrorIs(t, err, ErrSAMLDisabled)
	assert.Equal(t, 1, f.auditRepo.countAction(model.ActionSSOLoginFailed))
}

func TestProcessAssertionNoAutoProvision(t *testing.T) {
	cfg := enabledSAMLConfig()
	cfg.AutoProvision = false
	f := newSAMLFixture(cfg, &fakeValidator{identity: &saml.FederatedIdentity{SubjectID: "subj-3", Email: "nobody@corp.example.com"}})

	_, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 1, f.auditRepo.countAction(model.ActionSSOLoginFailed))
}

func TestProcessAssertionLockedAccount(t *testing.T) {
	identity := &saml.FederatedIdentity{SubjectID: "subj-4", Email: "locked@corp.example.com"}
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: identity})

	future := time.Now().Add(time.Hour)
	f.userRepo.put(model.User{
		Username:    "locked",
		Email:       "locked@corp.example.com",
		LockedUntil: &future,
	})

	_, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	assert.ErrorIs(t, err, ErrAccountLocked, "a valid assertion must not bypass a lockout")
}

func TestProcessAssertionRejectedSignature(t *testing.T) {
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{err: errors.New("signature verification failed")})

	_, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 1, f.auditRepo.countAction(model.ActionSSOLoginFailed))
}

func TestProcessAssertionMissingIdentifiers(t *testing.T) {
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: &saml.FederatedIdentity{}})

	_, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestProcessAssertionMappedAttributeWins(t *testing.T) {
	cfg := enabledSAMLConfig()
	cfg.AttributeMapping = model.AttributeMapping{"department": "dept"}
	identity := &saml.FederatedIdentity{
		SubjectID:  "subj-5",
		Email:      "pat@corp.example.com",
		FirstName:  "Pat",
		Department: "Operations",
		Attributes: map[string][]string{"dept": {"Finance"}},
	}
	f := newSAMLFixture(cfg, &fakeValidator{identity: identity})
	f.roleRepo.put(model.Role{Name: "user", IsSystem: true})

	result, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)

	assert.Equal(t, "Finance", result.User.Department, "the configured mapping beats the standard claim")
	assert.Equal(t, "Pat", result.User.FirstName, "unmapped fields fall back to standard claims")
}

func TestProcessAssertionRelayStateRedirect(t *testing.T) {
	cases := []struct {
		relayState string
		want       string
	}{
		{"/reports", "/reports"},
		{"", "/dashboard"},
		{"https://evil.example.com/phish", "/dashboard"},
		{"//evil.example.com", "/dashboard"},
	}

	for _, tc := range cases {
		identity := &saml.FederatedIdentity{SubjectID: "subj-6", Email: "r@corp.example.com"}
		f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: identity})
		f.roleRepo.put(model.Role{Name: "user", IsSystem: true})

		result, err := f.svc.ProcessAssertion(context.Background(), "b64response", tc.relayState)
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.RedirectTo, "relay state %q", tc.relayState)
	}
}

func TestProcessAssertionUsernameCollision(t *testing.T) {
	identity := &saml.FederatedIdentity{SubjectID: "subj-7", Email: "alice@corp.example.com"}
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: identity})
	f.roleRepo.put(model.Role{Name: "user", IsSystem: true})

	f.userRepo.put(model.User{Username: "alice", Email: "alice@elsewhere.example.com"})

	result, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)
	assert.NotEqual(t, "alice", result.User.Username)
	assert.Contains(t, result.User.Username, "alice-")
}

func TestGroupSyncIgnoresUnmappedGroups(t *testing.T) {
	identity := &saml.FederatedIdentity{
		SubjectID: "subj-8",
		Email:     "sam@corp.example.com",
		Groups:    []string{"Unknown-Group", "Another-Unknown"},
	}
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{identity: identity})
	f.roleRepo.put(model.Role{Name: "user", IsSystem: true})

	result, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)

	assignments, err := f.roles.ListUserAssignments(context.Background(), result.User.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "user", assignments[0].RoleName)
}

func TestGroupSyncRevokesOnlySystemAssignedRoles(t *testing.T) {
	cfg := enabledSAMLConfig()
	cfg.SyncRemovesRoles = true
	identity := &saml.FederatedIdentity{SubjectID: "subj-9", Email: "kim@corp.example.com"}
	f := newSAMLFixture(cfg, &fakeValidator{identity: identity})

	userRole := f.roleRepo.put(model.Role{Name: "user", IsSystem: true})
	riskRole := f.roleRepo.put(model.Role{Name: "risk_manager", IsSystem: true})
	auditorRole := f.roleRepo.put(model.Role{Name: "auditor", IsSystem: true})

	subject := "subj-9"
	user := f.userRepo.put(model.User{
		Username:      "kim",
		Email:         "kim@corp.example.com",
		AuthType:      model.AuthTypeSAML,
		SAMLSubjectID: &subject,
		Role:          "user",
	})

	adminID := uuid.New()
	// The default role and a stale group-derived role, both system-assigned,
	// plus one role a human granted by hand.
	f.roleRepo.addAssignment(model.RoleAssignment{UserID: user.ID, RoleID: userRole.ID, AssignedAt: time.Now().Add(-3 * time.Hour)})
	f.roleRepo.addAssignment(model.RoleAssignment{UserID: user.ID, RoleID: riskRole.ID, AssignedAt: time.Now().Add(-2 * time.Hour)})
	f.roleRepo.addAssignment(model.RoleAssignment{UserID: user.ID, RoleID: auditorRole.ID, AssignedBy: &adminID, AssignedAt: time.Now().Add(-time.Hour)})

	// The assertion carries no groups: the group backing risk_manager is gone.
	result, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)

	assignments, err := f.roles.ListUserAssignments(context.Background(), result.User.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		names = append(names, a.RoleName)
	}
	assert.ElementsMatch(t, []string{"user", "auditor"}, names,
		"revocation strips stale system-assigned roles but spares manual grants and the default role")
}

func TestGroupSyncKeepsRolesWhenRevocationDisabled(t *testing.T) {
	cfg := enabledSAMLConfig()
	cfg.SyncRemovesRoles = false
	identity := &saml.FederatedIdentity{SubjectID: "subj-10", Email: "lee@corp.example.com"}
	f := newSAMLFixture(cfg, &fakeValidator{identity: identity})

	f.roleRepo.put(model.Role{Name: "user", IsSystem: true})
	riskRole := f.roleRepo.put(model.Role{Name: "risk_manager", IsSystem: true})

	subject := "subj-10"
	user := f.userRepo.put(model.User{
		Username:      "lee",
		Email:         "lee@corp.example.com",
		AuthType:      model.AuthTypeSAML,
		SAMLSubjectID: &subject,
	})
	f.roleRepo.addAssignment(model.RoleAssignment{UserID: user.ID, RoleID: riskRole.ID, AssignedAt: time.Now().Add(-time.Hour)})

	result, err := f.svc.ProcessAssertion(context.Background(), "b64response", "")
	require.NoError(t, err)

	assignments, err := f.roles.ListUserAssignments(context.Background(), result.User.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "risk_manager", assignments[0].RoleName)
}

func TestLoginURLDisabled(t *testing.T) {
	cfg := enabledSAMLConfig()
	cfg.Enabled = false
	f := newSAMLFixture(cfg, &fakeValidator{})

	_, err := f.svc.LoginURL(context.Background(), "/reports")
	assert.ErrorIs(t, err, ErrSAMLDisabled)
}

func TestUpdateConfigAudits(t *testing.T) {
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{})
	actor := model.HumanActor(uuid.New())

	cfg, err := f.svc.UpdateConfig(context.Background(), UpdateSAMLConfigRequest{
		Enabled:          true,
		EnforceSSO:       true,
		AutoProvision:    true,
		DefaultRole:      "user",
		AttributeMapping: model.AttributeMapping{"email": "mail"},
	}, actor)
	require.NoError(t, err)

	assert.True(t, cfg.EnforceSSO)
	assert.Equal(t, "mail", cfg.AttributeMapping["email"])

	entry := f.auditRepo.lastAction(model.ActionSAMLConfigUpdated)
	require.NotNil(t, entry)
	assert.Equal(t, actor.UserID(), entry.PerformedBy)
}

func TestSeedDefaultGroupMappingsIsIdempotent(t *testing.T) {
	f := newSAMLFixture(enabledSAMLConfig(), &fakeValidator{})
	for _, name := range []string{"admin", "risk_manager", "compliance_officer", "auditor", "user"} {
		f.roleRepo.put(model.Role{Name: name, IsSystem: true})
	}

	require.NoError(t, f.svc.SeedDefaultGroupMappings(context.Background()))
	require.NoError(t, f.svc.SeedDefaultGroupMappings(context.Background()))

	mappings, err := f.svc.ListGroupMappings(context.Background())
	require.NoError(t, err)
	assert.Len(t, mappings, 5)
}

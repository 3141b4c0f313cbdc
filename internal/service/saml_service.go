package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/theblackhat55/aria51a-sub006/internal/model"
	"github.com/theblackhat55/aria51a-sub006/internal/repository"
	"github.com/theblackhat55/aria51a-sub006/internal/saml"
	ws "github.com/theblackhat55/aria51a-sub006/internal/websocket"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultLandingPath = "/dashboard"

// ValidatorFactory builds an assertion validator from the stored config. It
// is injectable so tests can substitute a fake without real XML signatures.
type ValidatorFactory func(cfg *model.SAMLConfig) (saml.AssertionValidator, error)

// --- DTOs ---

type UpdateSAMLConfigRequest struct {
	Enabled                 bool                   `json:"enabled"`
	IdPSSOURL               string                 `json:"idp_sso_url"`
	IdPEntityID             string                 `json:"idp_entity_id"`
	SPEntityID              string                 `json:"sp_entity_id"`
	ACSURL                  string                 `json:"acs_url"`
	IdPCertificate          string                 `json:"idp_certificate"`
	AutoProvision           bool                   `json:"auto_provision"`
	RequireSignedAssertions bool                   `json:"require_signed_assertions"`
	EnforceSSO              bool                   `json:"enforce_sso"`
	SyncRemovesRoles        bool                   `json:"sync_removes_roles"`
	DefaultRole             string                 `json:"default_role"`
	AttributeMapping        model.AttributeMapping `json:"attribute_mapping"`
}

type GroupMappingRequest struct {
	GroupName string `json:"group_name" binding:"required"`
	RoleID    string `json:"role_id" binding:"required"`
}

// SAMLLoginResult is handed back to the ACS handler: the local identity plus
// where to send the browser next.
type SAMLLoginResult struct {
	User        *model.User
	RedirectTo  string
	Provisioned bool
}

// --- Interface ---

// SAMLService is the federated identity pipeline: it consumes validated
// assertions, maps IdP attributes to local user fields, provisions or updates
// the local identity, and synchronizes group memberships into role
// assignments.
type SAMLService interface {
	ProcessAssertion(ctx context.Context, rawResponse, relayState string) (*SAMLLoginResult, error)
	LoginURL(ctx context.Context, relayState string) (string, error)
	Metadata(ctx context.Context) ([]byte, error)

	GetConfig(ctx context.Context) (*model.SAMLConfig, error)
	UpdateConfig(ctx context.Context, req UpdateSAMLConfigRequest, updatedBy model.Actor) (*model.SAMLConfig, error)

	ListGroupMappings(ctx context.Context) ([]model.GroupRoleMapping, error)
	UpsertGroupMapping(ctx context.Context, req GroupMappingRequest, changedBy model.Actor) (*model.GroupRoleMapping, error)
	DeleteGroupMapping(ctx context.Context, id string, changedBy model.Actor) error
	SeedDefaultGroupMappings(ctx context.Context) error
}

type samlService struct {
	samlRepo     repository.SAMLRepository
	userRepo     repository.UserRepository
	roleRepo     repository.RoleRepository
	roleService  RoleService
	security     SecurityService
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	hub          *ws.Hub
	newValidator ValidatorFactory
}

func NewSAMLService(
	samlRepo repository.SAMLRepository,
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	roleService RoleService,
	security SecurityService,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) SAMLService {
	return &samlService{
		samlRepo:     samlRepo,
		userRepo:     userRepo,
		roleRepo:     roleRepo,
		roleService:  roleService,
		security:     security,
		auditRepo:    auditRepo,
		txManager:    txManager,
		hub:          hub,
		newValidator: saml.NewValidator,
	}
}

// NewSAMLServiceWithValidator substitutes the validator factory. Used by
// tests to avoid real certificates.
func NewSAMLServiceWithValidator(
	samlRepo repository.SAMLRepository,
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	roleService RoleService,
	security SecurityService,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
	factory ValidatorFactory,
) SAMLService {
	svc := NewSAMLService(samlRepo, userRepo, roleRepo, roleService, security, auditRepo, txManager, hub).(*samlService)
	svc.newValidator = factory
	return svc
}

// --- Pipeline ---

func (s *samlService) ProcessAssertion(ctx context.Context, rawResponse, relayState string) (*SAMLLoginResult, error) {
	// Stage 1: config gate.
	cfg, err := s.samlRepo.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load saml config: %w", err)
	}
	if !cfg.Enabled {
		s.auditFailure(ctx, nil, "saml disabled")
		return nil, ErrSAMLDisabled
	}

	validator, err := s.newValidator(cfg)
	if err != nil {
		s.auditFailure(ctx, nil, "saml misconfigured: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrSAMLDisabled, err)
	}

	// Stage 2: assertion validation, fully delegated.
	identity, err := validator.ValidateAndParse(rawResponse)
	if err != nil {
		s.auditFailure(ctx, nil, err.Error())
		if cfg.RequireSignedAssertions {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("assertion validation failed: %w", err)
	}
	if identity.SubjectID == "" && identity.Email == "" {
		s.auditFailure(ctx, nil, "assertion carries neither subject id nor email")
		return nil, fmt.Errorf("%w: assertion missing identifiers", ErrInvalidSignature)
	}

	// Stage 3: match or provision.
	user, err := s.userRepo.GetBySAMLSubjectOrEmail(ctx, identity.SubjectID, identity.Email)
	provisioned := false
	switch {
	case err == nil:
		if user, err = s.updateExisting(ctx, cfg, user, identity); err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if !cfg.AutoProvision {
			s.auditFailure(ctx, nil, fmt.Sprintf("no local account for subject '%s' and auto-provisioning is off", identity.SubjectID))
			return nil, ErrUserNotFound
		}
		if user, err = s.provision(ctx, cfg, identity); err != nil {
			return nil, err
		}
		provisioned = true
	default:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	// Stage 5: group -> role sync.
	s.syncGroups(ctx, cfg, user, identity.Groups)

	// Stage 6: audit and hand back the identity plus redirect target.
	action := model.ActionSSOLoginSuccess
	if provisioned {
		action = model.ActionSAMLUserProvisioned
	}
	if err := s.auditRepo.Log(ctx, &model.AuditLog{
		UserID: &user.ID,
		Action: action,
		Details: auditDetails(map[string]interface{}{
			"subject_id": identity.SubjectID,
			"email":      user.Email,
			"groups":     identity.Groups,
		}),
		PerformedBy: model.SystemActor().UserID(),
	}); err != nil {
		return nil, fmt.Errorf("failed to audit sso login: %w", err)
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(action, map[string]interface{}{
			"user_id": user.ID,
			"email":   user.Email,
		})
	}

	return &SAMLLoginResult{
		User:        user,
		RedirectTo:  safeRedirect(relayState),
		Provisioned: provisioned,
	}, nil
}

func (s *samlService) updateExisting(ctx context.Context, cfg *model.SAMLConfig, user *model.User, identity *saml.FederatedIdentity) (*model.User, error) {
	locked, err := s.security.IsUserLocked(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check lock state: %w", err)
	}
	if locked {
		s.auditFailure(ctx, &user.ID, "account locked")
		return nil, ErrAccountLocked
	}

	applyAttributes(user, identity, cfg.AttributeMapping)
	if identity.SubjectID != "" {
		subject := identity.SubjectID
		user.SAMLSubjectID = &subject
	}
	user.AuthType = model.AuthTypeSAML

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user from assertion: %w", err)
	}
	if err := s.security.ResetFailedLogins(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to reset login failures: %w", err)
	}
	return user, nil
}

func (s *samlService) provision(ctx context.Context, cfg *model.SAMLConfig, identity *saml.FederatedIdentity) (*model.User, error) {
	user := &model.User{
		Email:       identity.Email,
		AuthType:    model.AuthTypeSAML,
		Permissions: model.PermissionSet{},
	}
	if identity.SubjectID != "" {
		subject := identity.SubjectID
		user.SAMLSubjectID = &subject
	}
	applyAttributes(user, identity, cfg.AttributeMapping)

	if user.Email == "" {
		s.auditFailure(ctx, nil, "cannot provision without an email")
		return nil, fmt.Errorf("%w: assertion carries no email", ErrProvisioning)
	}
	if user.Username == "" {
		user.Username = usernameFromEmail(user.Email)
	}
	if _, err := s.userRepo.GetByUsername(ctx, user.Username); err == nil {
		user.Username = fmt.Sprintf("%s-%s", user.Username, uuid.NewString()[:8])
	}

	// Role precedence: mapped role, then the assertion's role hint, then the
	// configured default.
	roleName := mappedValue(identity, cfg.AttributeMapping, "role")
	if roleName == "" {
		roleName = identity.Role
	}
	if roleName == "" {
		roleName = cfg.DefaultRole
	}
	role, err := s.roleRepo.FindByName(ctx, roleName)
	if err != nil {
		role, err = s.roleRepo.FindByName(ctx, cfg.DefaultRole)
		if err != nil {
			s.auditFailure(ctx, nil, fmt.Sprintf("default role '%s' not found", cfg.DefaultRole))
			return nil, fmt.Errorf("%w: default role missing", ErrProvisioning)
		}
	}
	user.Role = role.Name

	if err := s.userRepo.Create(ctx, user); err != nil {
		s.auditFailure(ctx, nil, "provisioning failed: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	if err := s.roleService.AssignRole(ctx, user.ID, role.ID, model.SystemActor(), nil); err != nil {
		return nil, fmt.Errorf("%w: failed to assign initial role: %v", ErrProvisioning, err)
	}

	return user, nil
}

// syncGroups assigns a role for every asserted group with a mapping entry.
// Each assignment is its own atomic, audited unit; a failure on one group
// does not roll back the others. When SyncRemovesRoles is on, system-assigned
// roles whose backing group disappeared are revoked; manually assigned roles
// are never touched.
func (s *samlService) syncGroups(ctx context.Context, cfg *model.SAMLConfig, user *model.User, groups []string) {
	granted := make(map[uuid.UUID]bool)
	for _, group := range groups {
		mapping, err := s.samlRepo.FindGroupMapping(ctx, group)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("group sync: lookup failed for '%s': %v", group, err)
			}
			continue // Unmapped groups are ignored, not errors.
		}
		if err := s.roleService.AssignRole(ctx, user.ID, mapping.RoleID, model.SystemActor(), nil); err != nil {
			log.Printf("group sync: failed to assign role for group '%s': %v", group, err)
			continue
		}
		granted[mapping.RoleID] = true
	}

	if !cfg.SyncRemovesRoles {
		return
	}

	assignments, err := s.roleRepo.ListActiveAssignments(ctx, user.ID)
	if err != nil {
		log.Printf("group sync: failed to list assignments for revocation: %v", err)
		return
	}
	for _, a := range assignments {
		if a.AssignedBy != nil || granted[a.RoleID] {
			continue
		}
		// The provisioning-time default role has no backing group either;
		// leave it alone so revocation cannot strip the base role.
		if a.Role.Name == cfg.DefaultRole {
			continue
		}
		if err := s.roleService.RemoveRole(ctx, user.ID, a.RoleID, model.SystemActor()); err != nil {
			log.Printf("group sync: failed to revoke role '%s': %v", a.Role.Name, err)
		}
	}
}

func (s *samlService) LoginURL(ctx context.Context, relayState string) (string, error) {
	cfg, err := s.samlRepo.GetConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load saml config: %w", err)
	}
	if !cfg.Enabled {
		return "", ErrSAMLDisabled
	}
	validator, err := s.newValidator(cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSAMLDisabled, err)
	}
	return validator.LoginURL(relayState)
}

func (s *samlService) Metadata(ctx context.Context) ([]byte, error) {
	cfg, err := s.samlRepo.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load saml config: %w", err)
	}
	validator, err := s.newValidator(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSAMLDisabled, err)
	}
	return validator.Metadata()
}

// --- Configuration ---

func (s *samlService) GetConfig(ctx context.Context) (*model.SAMLConfig, error) {
	return s.samlRepo.GetConfig(ctx)
}

func (s *samlService) UpdateConfig(ctx context.Context, req UpdateSAMLConfigRequest, updatedBy model.Actor) (*model.SAMLConfig, error) {
	cfg, err := s.samlRepo.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load saml config: %w", err)
	}

	cfg.Enabled = req.Enabled
	cfg.IdPSSOURL = req.IdPSSOURL
	cfg.IdPEntityID = req.IdPEntityID
	cfg.SPEntityID = req.SPEntityID
	cfg.ACSURL = req.ACSURL
	cfg.IdPCertificate = req.IdPCertificate
	cfg.AutoProvision = req.AutoProvision
	cfg.RequireSignedAssertions = req.RequireSignedAssertions
	cfg.EnforceSSO = req.EnforceSSO
	cfg.SyncRemovesRoles = req.SyncRemovesRoles
	if req.DefaultRole != "" {
		cfg.DefaultRole = req.DefaultRole
	}
	if req.AttributeMapping != nil {
		cfg.AttributeMapping = req.AttributeMapping
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.samlRepo.SaveConfig(txCtx, cfg); err != nil {
			return fmt.Errorf("failed to save saml config: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			Action: model.ActionSAMLConfigUpdated,
			Details: auditDetails(map[string]interface{}{
				"enabled":        cfg.Enabled,
				"enforce_sso":    cfg.EnforceSSO,
				"auto_provision": cfg.AutoProvision,
			}),
			PerformedBy: updatedBy.UserID(),
		})
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// --- Group mappings ---

func (s *samlService) ListGroupMappings(ctx context.Context) ([]model.GroupRoleMapping, error) {
	return s.samlRepo.ListGroupMappings(ctx)
}

func (s *samlService) UpsertGroupMapping(ctx context.Context, req GroupMappingRequest, changedBy model.Actor) (*model.GroupRoleMapping, error) {
	roleID, err := uuid.Parse(req.RoleID)
	if err != nil {
		return nil, fmt.Errorf("invalid role id: %w", err)
	}
	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("role not found: %w", err)
	}

	mapping := &model.GroupRoleMapping{
		GroupName: req.GroupName,
		RoleID:    roleID,
	}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.samlRepo.UpsertGroupMapping(txCtx, mapping); err != nil {
			return fmt.Errorf("failed to save group mapping: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			Action: model.ActionGroupMappingChanged,
			Details: auditDetails(map[string]interface{}{
				"group_name": req.GroupName,
				"role_name":  role.Name,
				"operation":  "upsert",
			}),
			PerformedBy: changedBy.UserID(),
		})
	})
	if err != nil {
		return nil, err
	}
	mapping.Role = *role
	return mapping, nil
}

func (s *samlService) DeleteGroupMapping(ctx context.Context, id string, changedBy model.Actor) error {
	mappingID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid mapping id: %w", err)
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.samlRepo.DeleteGroupMapping(txCtx, mappingID); err != nil {
			return fmt.Errorf("failed to delete group mapping: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			Action: model.ActionGroupMappingChanged,
			Details: auditDetails(map[string]interface{}{
				"mapping_id": mappingID,
				"operation":  "delete",
			}),
			PerformedBy: changedBy.UserID(),
		})
	})
}

// SeedDefaultGroupMappings creates mappings for the well-known ARIA5 IdP
// groups when absent.
func (s *samlService) SeedDefaultGroupMappings(ctx context.Context) error {
	defaults := map[string]string{
		"ARIA5-Administrators":     "admin",
		"ARIA5-RiskManagers":       "risk_manager",
		"ARIA5-ComplianceOfficers": "compliance_officer",
		"ARIA5-Auditors":           "auditor",
		"ARIA5-Users":              "user",
	}

	for group, roleName := range defaults {
		if _, err := s.samlRepo.FindGroupMapping(ctx, group); err == nil {
			continue
		}
		role, err := s.roleRepo.FindByName(ctx, roleName)
		if err != nil {
			return fmt.Errorf("failed to seed mapping for '%s': role '%s' missing: %w", group, roleName, err)
		}
		if err := s.samlRepo.UpsertGroupMapping(ctx, &model.GroupRoleMapping{
			GroupName: group,
			RoleID:    role.ID,
		}); err != nil {
			return fmt.Errorf("failed to seed mapping for '%s': %w", group, err)
		}
	}
	return nil
}

// --- Helpers ---

func (s *samlService) auditFailure(ctx context.Context, userID *uuid.UUID, reason string) {
	if err := s.auditRepo.Log(ctx, &model.AuditLog{
		UserID:      userID,
		Action:      model.ActionSSOLoginFailed,
		Details:     auditDetails(map[string]interface{}{"error": reason}),
		PerformedBy: model.SystemActor().UserID(),
	}); err != nil {
		log.Printf("failed to audit sso failure: %v", err)
	}
}

// applyAttributes copies mapped IdP attributes onto the local user. Mapped
// values take precedence; unmapped standard claims serve as fallback.
func applyAttributes(user *model.User, identity *saml.FederatedIdentity, mapping model.AttributeMapping) {
	if v := mappedValue(identity, mapping, "email"); v != "" {
		user.Email = v
	} else if identity.Email != "" {
		user.Email = identity.Email
	}
	if v := mappedValue(identity, mapping, "username"); v != "" {
		user.Username = v
	}
	if v := mappedValue(identity, mapping, "first_name"); v != "" {
		user.FirstName = v
	} else if identity.FirstName != "" {
		user.FirstName = identity.FirstName
	}
	if v := mappedValue(identity, mapping, "last_name"); v != "" {
		user.LastName = v
	} else if identity.LastName != "" {
		user.LastName = identity.LastName
	}
	if v := mappedValue(identity, mapping, "department"); v != "" {
		user.Department = v
	} else if identity.Department != "" {
		user.Department = identity.Department
	}
}

// mappedValue resolves a local field through the configured attribute mapping.
func mappedValue(identity *saml.FederatedIdentity, mapping model.AttributeMapping, field string) string {
	attrName, ok := mapping[field]
	if !ok {
		return ""
	}
	for _, v := range identity.Attributes[attrName] {
		if v != "" {
			return v
		}
	}
	return ""
}

func usernameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// safeRedirect only honors same-origin relay state paths; anything else
// falls back to the default landing page.
func safeRedirect(relayState string) string {
	if strings.HasPrefix(relayState, "/") && !strings.HasPrefix(relayState, "//") {
		return relayState
	}
	return defaultLandingPath
}

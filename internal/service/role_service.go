package service

import (
	"context"
	"fmt"
	"time"

	"github.com/theblackhat55/aria51a-sub006/internal/model"
	"github.com/theblackhat55/aria51a-sub006/internal/repository"
	ws "github.com/theblackhat55/aria51a-sub006/internal/websocket"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreateRoleRequest struct {
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description"`
	Permissions model.PermissionSet `json:"permissions"`
}

type UpdateRoleRequest struct {
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description"`
	Permissions model.PermissionSet `json:"permissions"`
}

type AssignRoleRequest struct {
	RoleID    string     `json:"role_id" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type RoleResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	IsSystem    bool                `json:"is_system"`
	Permissions model.PermissionSet `json:"permissions"`
	CreatedAt   string              `json:"created_at"`
}

type AssignmentResponse struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	RoleName   string     `json:"role_name"`
	AssignedBy string     `json:"assigned_by"`
	AssignedAt string     `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// --- Interface ---

// RoleService manages roles and role assignments. Every mutating call writes
// exactly one audit entry in the same transaction as the change: if the audit
// append fails the whole operation fails.
type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	GetRole(ctx context.Context, id string) (*RoleResponse, error)
	CreateRole(ctx context.Context, req CreateRoleRequest, createdBy model.Actor) (*RoleResponse, error)
	UpdateRole(ctx context.Context, id string, req UpdateRoleRequest, updatedBy model.Actor) (*RoleResponse, error)
	DeleteRole(ctx context.Context, id string, deletedBy model.Actor) error

	AssignRole(ctx context.Context, userID, roleID uuid.UUID, assignedBy model.Actor, expiresAt *time.Time) error
	RemoveRole(ctx context.Context, userID, roleID uuid.UUID, removedBy model.Actor) error
	ListUserAssignments(ctx context.Context, userID uuid.UUID) ([]AssignmentResponse, error)

	SeedDefaultRoles(ctx context.Context) error
}

type roleService struct {
	roleRepo  repository.RoleRepository
	userRepo  repository.UserRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	hub       *ws.Hub
}

func NewRoleService(
	roleRepo repository.RoleRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) RoleService {
	return &roleService{
		roleRepo:  roleRepo,
		userRepo:  userRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		hub:       hub,
	}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.roleRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*RoleResponse, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid role id: %w", err)
	}

	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("role not found: %w", err)
	}

	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) CreateRole(ctx context.Context, req CreateRoleRequest, createdBy model.Actor) (*RoleResponse, error) {
	if err := req.Permissions.Validate(); err != nil {
		return nil, fmt.Errorf("invalid permissions: %w", err)
	}

	role := model.Role{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		IsSystem:    false,
	}
	if role.Permissions == nil {
		role.Permissions = model.PermissionSet{}
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.Create(txCtx, &role); err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			Action: model.ActionRoleCreated,
			Details: auditDetails(map[string]interface{}{
				"role_id":   role.ID,
				"role_name": role.Name,
			}),
			PerformedBy: createdBy.UserID(),
		})
	})
	if err != nil {
		return nil, err
	}

	resp := toRoleResponse(role)
	return &resp, nil
}

func (s *roleService) UpdateRole(ctx context.Context, id string, req UpdateRoleRequest, updatedBy model.Actor) (*RoleResponse, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid role id: %w", err)
	}
	if err := req.Permissions.Validate(); err != nil {
		return nil, fmt.Errorf("invalid permissions: %w", err)
	}

	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("role not found: %w", err)
	}
	if role.IsSystem {
		return nil, fmt.Errorf("cannot modify system role '%s'", role.Name)
	}

	role.Name = req.Name
	role.Description = req.Description
	if req.Permissions != nil {
		role.Permissions = req.Permissions
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.Update(txCtx, role); err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			Action: model.ActionRoleUpdated,
			Details: auditDetails(map[string]interface{}{
				"role_id":   role.ID,
				"role_name": role.Name,
			}),
			PerformedBy: updatedBy.UserID(),
		})
	})
	if err != nil {
		return nil, err
	}

	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) DeleteRole(ctx context.Context, id string, deletedBy model.Actor) error {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid role id: %w", err)
	}

	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return fmt.Errorf("role not found: %w", err)
	}
	if role.IsSystem {
		return fmt.Errorf("cannot delete system role '%s'", role.Name)
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.Delete(txCtx, roleID); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			Action: model.ActionRoleDeleted,
			Details: auditDetails(map[string]interface{}{
				"role_id":   role.ID,
				"role_name": role.Name,
			}),
			PerformedBy: deletedBy.UserID(),
		})
	})
}

// AssignRole grants a role to a user. Assigning the same role twice refreshes
// the existing assignment row instead of duplicating it.
func (s *roleService) AssignRole(ctx context.Context, userID, roleID uuid.UUID, assignedBy model.Actor, expiresAt *time.Time) error {
	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return fmt.Errorf("role not found: %w", err)
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("user not found: %w", err)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		assignment := &model.RoleAssignment{
			UserID:     userID,
			RoleID:     roleID,
			AssignedBy: assignedBy.UserID(),
			AssignedAt: time.Now(),
			ExpiresAt:  expiresAt,
		}
		if err := s.roleRepo.UpsertAssignment(txCtx, assignment); err != nil {
			return fmt.Errorf("failed to assign role: %w", err)
		}

		// Keep the legacy single-role field in sync for older consumers.
		if user.Role != role.Name {
			user.Role = role.Name
			if err := s.userRepo.Update(txCtx, user); err != nil {
				return fmt.Errorf("failed to sync legacy role field: %w", err)
			}
		}

		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID: &userID,
			Action: model.ActionRoleAssigned,
			Details: auditDetails(map[string]interface{}{
				"role_id":    roleID,
				"role_name":  role.Name,
				"expires_at": expiresAt,
			}),
			PerformedBy: assignedBy.UserID(),
		})
	})
	if err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(model.ActionRoleAssigned, map[string]interface{}{
			"user_id":     userID,
			"role_name":   role.Name,
			"assigned_by": assignedBy.String(),
		})
	}
	return nil
}

func (s *roleService) RemoveRole(ctx context.Context, userID, roleID uuid.UUID, removedBy model.Actor) error {
	role, err := s.roleRepo.FindByID(ctx, roleID)
	if err != nil {
		return fmt.Errorf("role not found: %w", err)
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("user not found: %w", err)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.DeleteAssignment(txCtx, userID, roleID); err != nil {
			return fmt.Errorf("failed to remove role: %w", err)
		}

		// Recompute the legacy role field from whatever assignments remain.
		if user.Role == role.Name {
			remaining, err := s.roleRepo.ListActiveAssignments(txCtx, userID)
			if err != nil {
				return fmt.Errorf("failed to load remaining assignments: %w", err)
			}
			user.Role = "user"
			if len(remaining) > 0 {
				user.Role = remaining[len(remaining)-1].Role.Name
			}
			if err := s.userRepo.Update(txCtx, user); err != nil {
				return fmt.Errorf("failed to sync legacy role field: %w", err)
			}
		}

		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID: &userID,
			Action: model.ActionRoleRemoved,
			Details: auditDetails(map[string]interface{}{
				"role_id":   roleID,
				"role_name": role.Name,
			}),
			PerformedBy: removedBy.UserID(),
		})
	})
	if err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(model.ActionRoleRemoved, map[string]interface{}{
			"user_id":    userID,
			"role_name":  role.Name,
			"removed_by": removedBy.String(),
		})
	}
	return nil
}

func (s *roleService) ListUserAssignments(ctx context.Context, userID uuid.UUID) ([]AssignmentResponse, error) {
	assignments, err := s.roleRepo.ListActiveAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assignments: %w", err)
	}

	res := make([]AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		assignedBy := "system"
		if a.AssignedBy != nil {
			assignedBy = a.AssignedBy.String()
		}
		res = append(res, AssignmentResponse{
			UserID:     a.UserID.String(),
			RoleID:     a.RoleID.String(),
			RoleName:   a.Role.Name,
			AssignedBy: assignedBy,
			AssignedAt: a.AssignedAt.Format("2006-01-02 15:04:05"),
			ExpiresAt:  a.ExpiresAt,
		})
	}
	return res, nil
}

// SeedDefaultRoles creates the built-in system roles if not already present.
func (s *roleService) SeedDefaultRoles(ctx context.Context) error {
	defaults := []model.Role{
		{
			Name:        "admin",
			Description: "Administrator with unrestricted access",
			IsSystem:    true,
			Permissions: model.PermissionSet{
				"admin": {"all": true},
			},
		},
		{
			Name:        "risk_manager",
			Description: "Manages the risk register and treatment plans",
			IsSystem:    true,
			Permissions: model.PermissionSet{
				"risk":       {"all": true},
				"compliance": {"read": true},
				"incident":   {"read": true, "write": true},
				"dashboard":  {"read": true},
				"audit":      {"read": true},
			},
		},
		{
			Name:        "compliance_officer",
			Description: "Manages compliance frameworks and evidence",
			IsSystem:    true,
			Permissions: model.PermissionSet{
				"compliance": {"all": true},
				"risk":       {"read": true},
				"dashboard":  {"read": true},
				"audit":      {"read": true},
			},
		},
		{
			Name:        "auditor",
			Description: "Read-only access for internal and external audits",
			IsSystem:    true,
			Permissions: model.PermissionSet{
				"risk":       {"read": true},
				"compliance": {"read": true},
				"incident":   {"read": true},
				"dashboard":  {"read": true},
				"audit":      {"read": true},
			},
		},
		{
			Name:        "user",
			Description: "Standard user with basic read access",
			IsSystem:    true,
			Permissions: model.PermissionSet{
				"dashboard": {"read": true},
				"risk":      {"read": true},
			},
		},
	}

	for i := range defaults {
		role := &defaults[i]
		if _, err := s.roleRepo.FindByName(ctx, role.Name); err == nil {
			continue
		}
		if err := s.roleRepo.Create(ctx, role); err != nil {
			return fmt.Errorf("failed to seed role '%s': %w", role.Name, err)
		}
	}
	return nil
}

// --- Helpers ---

func toRoleResponse(r model.Role) RoleResponse {
	perms := r.Permissions
	if perms == nil {
		perms = model.PermissionSet{}
	}
	return RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: perms,
		CreatedAt:   r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

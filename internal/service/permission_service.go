package service

import (
	"context"
	"fmt"

	"github.com/theblackhat55/aria51a-sub006/internal/model"
	"github.com/theblackhat55/aria51a-sub006/internal/repository"

	"github.com/google/uuid"
)

// PermissionService resolves effective permissions for a user by merging all
// currently-valid role permissions with the user's own overrides.
type PermissionService interface {
	// HasPermission answers an authorization query. It fails closed: any
	// storage error resolves to false, never to "allow".
	HasPermission(ctx context.Context, userID uuid.UUID, resource, action string) bool
	GetUserPermissions(ctx context.Context, userID uuid.UUID) (model.PermissionSet, error)
}

type permissionService struct {
	userRepo repository.UserRepository
	roleRepo repository.RoleRepository
}

func NewPermissionService(userRepo repository.UserRepository, roleRepo repository.RoleRepository) PermissionService {
	return &permissionService{userRepo: userRepo, roleRepo: roleRepo}
}

// GetUserPermissions merges role permission sets in assignment order, then
// overlays the user's own overrides. Merging is per-action: a later set only
// wins on the actions it mentions, so disjoint grants accumulate.
func (s *permissionService) GetUserPermissions(ctx context.Context, userID uuid.UUID) (model.PermissionSet, error) {
	assignments, err := s.roleRepo.ListActiveAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role assignments: %w", err)
	}

	merged := model.PermissionSet{}
	for _, assignment := range assignments {
		merged.Merge(assignment.Role.Permissions)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	merged.Merge(user.Permissions)

	return merged, nil
}

func (s *permissionService) HasPermission(ctx context.Context, userID uuid.UUID, resource, action string) bool {
	perms, err := s.GetUserPermissions(ctx, userID)
	if err != nil {
		// Fail closed. An unreachable store must never read as "allow".
		return false
	}
	return perms.Grants(resource, action)
}

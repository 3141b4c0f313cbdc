package repository

import (
	"context"
	"time"

	"github.com/theblackhat55/aria51a-sub006/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoleRepository interface {
	Create(ctx context.Context, role *model.Role) error
	Update(ctx context.Context, role *model.Role) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
	FindByName(ctx context.Context, name string) (*model.Role, error)
	ListAll(ctx context.Context) ([]model.Role, error)

	// UpsertAssignment creates the assignment or refreshes the existing row
	// for the same (user, role) pair, so repeated assignment is idempotent.
	UpsertAssignment(ctx context.Context, assignment *model.RoleAssignment) error
	DeleteAssignment(ctx context.Context, userID, roleID uuid.UUID) error
	// ListActiveAssignments returns assignments that have not expired, in
	// assignment order, with roles preloaded.
	ListActiveAssignments(ctx context.Context, userID uuid.UUID) ([]model.RoleAssignment, error)
}

type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) Create(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Create(role).Error
}

func (r *roleRepository) Update(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Save(role).Error
}

func (r *roleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Role{}).Error
}

func (r *roleRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).First(&role, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) FindByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).Where("name = ?", name).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) ListAll(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := GetDB(ctx, r.db).Order("created_at asc").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *roleRepository) UpsertAssignment(ctx context.Context, assignment *model.RoleAssignment) error {
	return GetDB(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "role_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"assigned_by", "assigned_at", "expires_at",
		}),
	}).Create(assignment).Error
}

func (r *roleRepository) DeleteAssignment(ctx context.Context, userID, roleID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&model.RoleAssignment{}).Error
}

func (r *roleRepository) ListActiveAssignments(ctx context.Context, userID uuid.UUID) ([]model.RoleAssignment, error) {
	var assignments []model.RoleAssignment
	if err := GetDB(ctx, r.db).
		Preload("Role").
		Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", userID, time.Now()).
		Order("assigned_at asc").
		Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

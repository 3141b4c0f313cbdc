package repository

import (
	"context"

	"github.com/theblackhat55/aria51a-sub006/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SAMLRepository persists the singleton SAML configuration and the
// group-name → role mapping table used by group sync.
type SAMLRepository interface {
	GetConfig(ctx context.Context) (*model.SAMLConfig, error)
	SaveConfig(ctx context.Context, cfg *model.SAMLConfig) error

	ListGroupMappings(ctx context.Context) ([]model.GroupRoleMapping, error)
	FindGroupMapping(ctx context.Context, groupName string) (*model.GroupRoleMapping, error)
	UpsertGroupMapping(ctx context.Context, mapping *model.GroupRoleMapping) error
	DeleteGroupMapping(ctx context.Context, id uuid.UUID) error
}

type samlRepository struct {
	db *gorm.DB
}

func NewSAMLRepository(db *gorm.DB) SAMLRepository {
	return &samlRepository{db: db}
}

// GetConfig returns the singleton config row, creating a disabled default if
// none exists yet.
func (r *samlRepository) GetConfig(ctx context.Context) (*model.SAMLConfig, error) {
	var cfg model.SAMLConfig
	err := GetDB(ctx, r.db).Order("created_at asc").First(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	cfg = model.SAMLConfig{
		Enabled:                 false,
		AutoProvision:           true,
		RequireSignedAssertions: true,
		DefaultRole:             "user",
		AttributeMapping:        model.AttributeMapping{},
	}
	if err := GetDB(ctx, r.db).Create(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *samlRepository) SaveConfig(ctx context.Context, cfg *model.SAMLConfig) error {
	return GetDB(ctx, r.db).Save(cfg).Error
}

func (r *samlRepository) ListGroupMappings(ctx context.Context) ([]model.GroupRoleMapping, error) {
	var mappings []model.GroupRoleMapping
	if err := GetDB(ctx, r.db).Preload("Role").Order("group_name asc").Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *samlRepository) FindGroupMapping(ctx context.Context, groupName string) (*model.GroupRoleMapping, error) {
	var mapping model.GroupRoleMapping
	if err := GetDB(ctx, r.db).Preload("Role").Where("group_name = ?", groupName).First(&mapping).Error; err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (r *samlRepository) UpsertGroupMapping(ctx context.Context, mapping *model.GroupRoleMapping) error {
	return GetDB(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"role_id", "updated_at"}),
	}).Create(mapping).Error
}

func (r *samlRepository) DeleteGroupMapping(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.GroupRoleMapping{}).Error
}

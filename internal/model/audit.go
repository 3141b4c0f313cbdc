package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionRoleCreated         = "role_created"
	ActionRoleUpdated         = "role_updated"
	ActionRoleDeleted         = "role_deleted"
	ActionRoleAssigned        = "role_assigned"
	ActionRoleRemoved         = "role_removed"
	ActionUserLocked          = "user_locked"
	ActionUserUnlocked        = "user_unlocked"
	ActionLoginFailed         = "login_failed"
	ActionLoginSuccess        = "login_success"
	ActionSAMLUserProvisioned = "saml_user_provisioned"
	ActionSSOLoginSuccess     = "sso_login_success"
	ActionSSOLoginFailed      = "sso_login_failed"
	ActionSAMLConfigUpdated   = "saml_config_updated"
	ActionGroupMappingChanged = "saml_group_mapping_changed"
)

// AuditLog tracks Who, What, and When for critical system changes.
// Entries are append-only: nothing in this codebase updates or deletes them.
type AuditLog struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID      *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Subject of the action; nil for config-level events
	User        *User      `gorm:"foreignKey:UserID" json:"user"`
	Action      string     `gorm:"type:varchar(50);not null;index" json:"action"`
	Details     string     `gorm:"type:jsonb" json:"details"`                 // Serialized JSON payload of the action
	PerformedBy *uuid.UUID `gorm:"type:uuid;index" json:"performed_by"`       // nil when the system acted on its own
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
}

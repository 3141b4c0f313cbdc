package model

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a named permission set that can be assigned to users
type Role struct {
	ID          uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string        `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Description string        `gorm:"type:text" json:"description"`
	Permissions PermissionSet `gorm:"type:jsonb" json:"permissions"`
	IsSystem    bool          `gorm:"default:false" json:"is_system"` // System roles can be assigned but never edited or deleted
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// RoleAssignment links a user to a role. Expired assignments are filtered at
// query time (expires_at IS NULL OR expires_at > now); nothing deletes them in
// the background.
type RoleAssignment struct {
	UserID     uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	RoleID     uuid.UUID  `gorm:"type:uuid;primaryKey" json:"role_id"`
	Role       Role       `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE" json:"role"`
	AssignedBy *uuid.UUID `gorm:"type:uuid" json:"assigned_by"` // nil when assigned by the system (SAML group sync, lockout flows)
	AssignedAt time.Time  `gorm:"autoCreateTime" json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the assignment counts as present at the given time.
func (a *RoleAssignment) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

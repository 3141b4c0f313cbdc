package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AuthTypeLocal = "local"
	AuthTypeSAML  = "saml"
)

// User represents the central user entity for logic and database structure
type User struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Email         string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password      string    `gorm:"type:varchar(255)" json:"-"` // empty for SAML-provisioned accounts
	AuthType      string    `gorm:"type:varchar(20);not null;default:local" json:"auth_type"`
	SAMLSubjectID *string   `gorm:"type:varchar(255);uniqueIndex" json:"saml_subject_id,omitempty"`
	FirstName     string    `gorm:"type:varchar(255)" json:"first_name"`
	LastName      string    `gorm:"type:varchar(255)" json:"last_name"`
	Department    string    `gorm:"type:varchar(255)" json:"department"`
	Role          string    `gorm:"type:varchar(50);not null;default:user" json:"role"` // legacy single-role field, kept in sync with assignments

	// Permissions holds user-specific overrides. They are merged on top of
	// role-derived permissions and always win at the action level.
	Permissions PermissionSet `gorm:"type:jsonb" json:"permissions"`

	FailedLoginAttempts int        `gorm:"not null;default:0" json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastLogin           *time.Time `json:"last_login,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"` // GORM soft delete
}

// IsLocked reports whether the account is locked as of now. A locked_until in
// the past counts as unlocked; nothing clears the column in the background.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// RefreshToken stores long-lived tokens allowing users to request new access tokens
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Token     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

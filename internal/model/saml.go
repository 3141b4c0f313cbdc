package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttributeMapping maps local user field names to IdP attribute names.
// Recognized local fields: email, username, first_name, last_name,
// department, role.
type AttributeMapping map[string]string

func (m AttributeMapping) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(AttributeMapping{})
	}
	return json.Marshal(m)
}

func (m *AttributeMapping) Scan(value interface{}) error {
	if value == nil {
		*m = AttributeMapping{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported attribute mapping source type %T", value)
	}

	if len(data) == 0 {
		*m = AttributeMapping{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// SAMLConfig is the singleton row describing the IdP integration.
type SAMLConfig struct {
	ID                      uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Enabled                 bool             `gorm:"default:false" json:"enabled"`
	IdPSSOURL               string           `gorm:"type:text" json:"idp_sso_url"`
	IdPEntityID             string           `gorm:"type:text" json:"idp_entity_id"`
	SPEntityID              string           `gorm:"type:text" json:"sp_entity_id"`
	ACSURL                  string           `gorm:"type:text" json:"acs_url"`
	IdPCertificate          string           `gorm:"type:text" json:"idp_certificate"` // PEM-encoded signing certificate
	AutoProvision           bool             `gorm:"default:true" json:"auto_provision"`
	RequireSignedAssertions bool             `gorm:"default:true" json:"require_signed_assertions"`
	EnforceSSO              bool             `gorm:"default:false" json:"enforce_sso"` // Disables local password auth when true
	SyncRemovesRoles        bool             `gorm:"default:false" json:"sync_removes_roles"`
	DefaultRole             string           `gorm:"type:varchar(50);default:user" json:"default_role"`
	AttributeMapping        AttributeMapping `gorm:"type:jsonb" json:"attribute_mapping"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

// GroupRoleMapping maps an IdP group name to a local role for SAML group
// sync. A group maps to exactly one role; groups with no mapping are ignored
// during sync.
type GroupRoleMapping struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	GroupName string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"group_name"`
	RoleID    uuid.UUID `gorm:"type:uuid;not null" json:"role_id"`
	Role      Role      `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

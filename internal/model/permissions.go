package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// ActionAll is the reserved action meaning every action on a resource.
	ActionAll = "all"
	// ResourceAdmin with ActionAll is the super-admin grant covering everything.
	ResourceAdmin = "admin"
)

// PermissionSet maps resource name -> action name -> granted.
// Permissions are additive only; there is no deny entry. Revocation happens by
// removing the grant, never by recording a negative permission.
type PermissionSet map[string]map[string]bool

// Value serializes the set to jsonb for storage.
func (p PermissionSet) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal(PermissionSet{})
	}
	return json.Marshal(p)
}

// Scan deserializes the set from a jsonb column.
func (p *PermissionSet) Scan(value interface{}) error {
	if value == nil {
		*p = PermissionSet{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported permission set source type %T", value)
	}

	if len(data) == 0 {
		*p = PermissionSet{}
		return nil
	}
	return json.Unmarshal(data, p)
}

// Validate rejects malformed sets at the store boundary so the rest of the
// call path can treat the structure as trusted.
func (p PermissionSet) Validate() error {
	for resource, actions := range p {
		if resource == "" {
			return errors.New("permission set contains an empty resource name")
		}
		for action := range actions {
			if action == "" {
				return fmt.Errorf("resource '%s' contains an empty action name", resource)
			}
		}
	}
	return nil
}

// Merge overlays other onto p, overriding at the action level. Resources are
// merged key by key rather than replaced wholesale, so later sets only win on
// the actions they actually mention.
func (p PermissionSet) Merge(other PermissionSet) {
	for resource, actions := range other {
		existing, ok := p[resource]
		if !ok {
			existing = make(map[string]bool, len(actions))
			p[resource] = existing
		}
		for action, granted := range actions {
			existing[action] = granted
		}
	}
}

// Clone returns a deep copy of the set.
func (p PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(p))
	for resource, actions := range p {
		copied := make(map[string]bool, len(actions))
		for action, granted := range actions {
			copied[action] = granted
		}
		out[resource] = copied
	}
	return out
}

// Grants reports whether the set allows action on resource. A missing resource
// key means no permission (default deny). The reserved "all" action on the
// resource, or "all" on the reserved "admin" resource, grants unconditionally.
func (p PermissionSet) Grants(resource, action string) bool {
	if actions, ok := p[resource]; ok {
		if actions[action] || actions[ActionAll] {
			return true
		}
	}
	if admin, ok := p[ResourceAdmin]; ok && admin[ActionAll] {
		return true
	}
	return false
}

package permissions

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Scope qualifies how much of the underlying data a granted permission
// applies to. Scopes are totally ordered by permissiveness:
// ScopeNone < ScopeOwn < ScopeDepartment < ScopeAll.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeDepartment
	ScopeAll
)

var scopeNames = map[Scope]string{
	ScopeNone:       "none",
	ScopeOwn:        "own",
	ScopeDepartment: "department",
	ScopeAll:        "all",
}

// String returns the canonical lowercase name of the scope.
func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// Valid reports whether s is one of the defined scope values.
func (s Scope) Valid() bool {
	_, ok := scopeNames[s]
	return ok
}

// Wider returns the more permissive of the two scopes.
func (s Scope) Wider(other Scope) Scope {
	if other > s {
		return other
	}
	return s
}

// ParseScope converts a stored scope name into a Scope value.
func ParseScope(name string) (Scope, error) {
	for scope, n := range scopeNames {
		if n == name {
			return scope, nil
		}
	}
	return ScopeNone, fmt.Errorf("unknown scope: %q", name)
}

// MarshalJSON encodes the scope as its canonical name.
func (s Scope) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid scope %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a scope from its canonical name.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseScope(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML encodes the scope as its canonical name.
func (s Scope) MarshalYAML() (interface{}, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid scope %d", int(s))
	}
	return s.String(), nil
}

// UnmarshalYAML decodes a scope from its canonical name in catalog files.
func (s *Scope) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseScope(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// GroupKind identifies the kind of entity a permission can be granted to.
type GroupKind string

const (
	GroupRole       GroupKind = "role"
	GroupDepartment GroupKind = "department"
	GroupSpecialty  GroupKind = "specialty"
	GroupUser       GroupKind = "user"
)

// Valid reports whether k is one of the defined group kinds.
func (k GroupKind) Valid() bool {
	switch k {
	case GroupRole, GroupDepartment, GroupSpecialty, GroupUser:
		return true
	}
	return false
}

// GroupIdentity is one thing a permission can be granted to: a role, a
// department, a specialty, or an individual user. It is a closed tagged
// union; the resolver and stores switch exhaustively on Kind.
type GroupIdentity struct {
	Kind GroupKind `json:"kind"`
	ID   int64     `json:"id"`
}

// String returns a compact "kind:id" form used in logs and cache keys.
func (g GroupIdentity) String() string {
	return fmt.Sprintf("%s:%d", g.Kind, g.ID)
}

// RoleGroup returns the group identity for an organizational role.
func RoleGroup(id int64) GroupIdentity {
	return GroupIdentity{Kind: GroupRole, ID: id}
}

// DepartmentGroup returns the group identity for a department.
func DepartmentGroup(id int64) GroupIdentity {
	return GroupIdentity{Kind: GroupDepartment, ID: id}
}

// SpecialtyGroup returns the group identity for a specialty (skill tag).
func SpecialtyGroup(id int64) GroupIdentity {
	return GroupIdentity{Kind: GroupSpecialty, ID: id}
}

// UserGroup returns the group identity for a direct per-user grant.
func UserGroup(id int64) GroupIdentity {
	return GroupIdentity{Kind: GroupUser, ID: id}
}

// Definition describes one checkable permission code in the catalog.
type Definition struct {
	Code          string `json:"code" yaml:"code"`
	Category      string `json:"category" yaml:"category"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	SupportsScope bool   `json:"supports_scope" yaml:"supports_scope"`
	DefaultScope  Scope  `json:"default_scope" yaml:"default_scope"`
}

// Mapping is one persisted grant of a permission code to a group
// identity, with an optional scope override. The engine only ever reads
// mappings; they are authored by the surrounding platform.
type Mapping struct {
	ID            int64         `json:"id"`
	Code          string        `json:"code"`
	Target        GroupIdentity `json:"target"`
	ScopeOverride *Scope        `json:"scope_override,omitempty"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// EffectiveScope returns the scope this mapping grants for def: the
// override when present, otherwise the catalog default.
func (m Mapping) EffectiveScope(def Definition) Scope {
	if m.ScopeOverride != nil {
		return *m.ScopeOverride
	}
	return def.DefaultScope
}

// Principal is the minimal user identity the engine needs. Superusers
// and staff bypass resolution entirely.
type Principal struct {
	ID          int64  `json:"id"`
	Username    string `json:"username,omitempty"`
	IsSuperuser bool   `json:"is_superuser"`
	IsStaff     bool   `json:"is_staff"`
}

// FullAccess reports whether the principal bypasses mapping resolution.
func (p Principal) FullAccess() bool {
	return p.IsSuperuser || p.IsStaff
}

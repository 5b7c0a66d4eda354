package directory

// User is an account row as the surrounding platform stores it. The
// permission engine only consumes the identity and bypass flags.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	IsSuperuser bool   `json:"is_superuser"`
	IsStaff     bool   `json:"is_staff"`
	IsActive    bool   `json:"is_active"`
}

// Department is an organizational unit users belong to.
type Department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Role is an organizational role attached to a department membership.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Specialty is a skill tag assignable to users independent of their
// department.
type Specialty struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DepartmentMembership ties a user to a department with a role. Primary
// marks the membership shown first in UIs; resolution ignores it and
// only honors IsActive.
type DepartmentMembership struct {
	ID           int64 `json:"id"`
	UserID       int64 `json:"user_id"`
	DepartmentID int64 `json:"department_id"`
	RoleID       int64 `json:"role_id"`
	IsActive     bool  `json:"is_active"`
	IsPrimary    bool  `json:"is_primary"`
}

// SpecialtyAssignment ties a user to a specialty.
type SpecialtyAssignment struct {
	ID          int64 `json:"id"`
	UserID      int64 `json:"user_id"`
	SpecialtyID int64 `json:"specialty_id"`
	IsActive    bool  `json:"is_active"`
}

package directory

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDirectory is a fixture-backed Directory for tests and the
// "memory" backend used in local development.
type MemoryDirectory struct {
	mu          sync.RWMutex
	users       map[int64]User
	memberships map[int64][]DepartmentMembership
	specialties map[int64][]SpecialtyAssignment
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:       make(map[int64]User),
		memberships: make(map[int64][]DepartmentMembership),
		specialties: make(map[int64][]SpecialtyAssignment),
	}
}

// AddUser registers a user fixture.
func (d *MemoryDirectory) AddUser(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

// AddMembership registers a department membership fixture.
func (d *MemoryDirectory) AddMembership(m DepartmentMembership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memberships[m.UserID] = append(d.memberships[m.UserID], m)
}

// AddSpecialty registers a specialty assignment fixture.
func (d *MemoryDirectory) AddSpecialty(a SpecialtyAssignment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.specialties[a.UserID] = append(d.specialties[a.UserID], a)
}

// User retrieves a user by ID.
func (d *MemoryDirectory) User(ctx context.Context, userID int64) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	return user, nil
}

// ActiveMemberships returns the user's active department memberships.
func (d *MemoryDirectory) ActiveMemberships(ctx context.Context, userID int64) ([]DepartmentMembership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []DepartmentMembership
	for _, m := range d.memberships[userID] {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

// ActiveSpecialties returns the user's active specialty assignments.
func (d *MemoryDirectory) ActiveSpecialties(ctx context.Context, userID int64) ([]SpecialtyAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []SpecialtyAssignment
	for _, a := range d.specialties[userID] {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

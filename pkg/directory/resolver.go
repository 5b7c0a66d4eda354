package directory

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fieldline/gatehouse/pkg/permissions"
)

// Directory is the read surface over the platform's organizational
// data. The engine never writes any of it; hires, transfers and
// specialty (re)assignments happen in workflows elsewhere.
type Directory interface {
	User(ctx context.Context, userID int64) (User, error)
	ActiveMemberships(ctx context.Context, userID int64) ([]DepartmentMembership, error)
	ActiveSpecialties(ctx context.Context, userID int64) ([]SpecialtyAssignment, error)
}

// Resolver turns directory rows into the group identity set the
// permission service resolves against. It implements
// permissions.MembershipResolver.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over a directory backend.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// GroupsFor returns the principal's group identities: one department
// per active membership, one specialty per active assignment, one role
// per distinct role held across active memberships, and exactly one
// user identity for direct grants. Membership and specialty lookups run
// concurrently.
func (r *Resolver) GroupsFor(ctx context.Context, principal permissions.Principal) ([]permissions.GroupIdentity, error) {
	var memberships []DepartmentMembership
	var specialties []SpecialtyAssignment

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		memberships, err = r.dir.ActiveMemberships(ctx, principal.ID)
		if err != nil {
			return fmt.Errorf("failed to load department memberships: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		specialties, err = r.dir.ActiveSpecialties(ctx, principal.ID)
		if err != nil {
			return fmt.Errorf("failed to load specialty assignments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[permissions.GroupIdentity]bool)
	groups := make([]permissions.GroupIdentity, 0, len(memberships)*2+len(specialties)+1)

	add := func(identity permissions.GroupIdentity) {
		if !seen[identity] {
			seen[identity] = true
			groups = append(groups, identity)
		}
	}

	for _, m := range memberships {
		if !m.IsActive {
			continue
		}
		add(permissions.DepartmentGroup(m.DepartmentID))
		if m.RoleID != 0 {
			add(permissions.RoleGroup(m.RoleID))
		}
	}
	for _, s := range specialties {
		if !s.IsActive {
			continue
		}
		add(permissions.SpecialtyGroup(s.SpecialtyID))
	}
	add(permissions.UserGroup(principal.ID))

	return groups, nil
}

// Principal looks up a user and adapts it to the engine's principal
// shape. It satisfies permissions.PrincipalLookup.
func (r *Resolver) Principal(ctx context.Context, userID int64) (permissions.Principal, error) {
	user, err := r.dir.User(ctx, userID)
	if err != nil {
		return permissions.Principal{}, err
	}
	return permissions.Principal{
		ID:          user.ID,
		Username:    user.Username,
		IsSuperuser: user.IsSuperuser,
		IsStaff:     user.IsStaff,
	}, nil
}

// DepartmentIDs returns the sorted IDs of departments the user is
// actively a member of. Scope filters use this for DEPARTMENT-scoped
// queries.
func (r *Resolver) DepartmentIDs(ctx context.Context, userID int64) ([]int64, error) {
	memberships, err := r.dir.ActiveMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load department memberships: %w", err)
	}

	seen := make(map[int64]bool)
	ids := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		if m.IsActive && !seen[m.DepartmentID] {
			seen[m.DepartmentID] = true
			ids = append(ids, m.DepartmentID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

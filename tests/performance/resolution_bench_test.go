package performance

import (
	"context"
	"fmt"
	"testing"

	"github.com/fieldline/gatehouse/pkg/directory"
	"github.com/fieldline/gatehouse/pkg/permissions"
)

// buildFixtures wires an in-memory directory and store with a user that
// holds several grants through department, role and specialty groups.
func buildFixtures(b *testing.B, grants int) (*permissions.Service, permissions.Principal) {
	b.Helper()

	dir := directory.NewMemoryDirectory()
	dir.AddUser(directory.User{ID: 1, Username: "bench", IsActive: true})
	dir.AddMembership(directory.DepartmentMembership{ID: 1, UserID: 1, DepartmentID: 10, RoleID: 100, IsActive: true})
	dir.AddMembership(directory.DepartmentMembership{ID: 2, UserID: 1, DepartmentID: 11, RoleID: 100, IsActive: true})
	dir.AddSpecialty(directory.SpecialtyAssignment{ID: 1, UserID: 1, SpecialtyID: 7, IsActive: true})

	store := permissions.NewMemoryStore()
	codes := permissions.BuiltinCatalog().Codes()
	for i := 0; i < grants; i++ {
		store.Add(permissions.Mapping{
			Code:     codes[i%len(codes)],
			Target:   permissions.DepartmentGroup(10),
			IsActive: true,
		})
	}

	resolver := directory.NewResolver(dir)
	service := permissions.NewService(permissions.BuiltinCatalog(), resolver, store, nil, nil)
	return service, permissions.Principal{ID: 1, Username: "bench"}
}

// BenchmarkSnapshotBuild measures one full resolution pass: membership
// lookup, mapping fetch and grant merge.
func BenchmarkSnapshotBuild(b *testing.B) {
	for _, grants := range []int{4, 16, 64} {
		b.Run(fmt.Sprintf("grants-%d", grants), func(b *testing.B) {
			service, principal := buildFixtures(b, grants)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := service.For(ctx, principal); err != nil {
					b.Fatalf("snapshot build failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkSnapshotChecks measures repeated checks against one snapshot,
// the hot path inside a request once resolution has run.
func BenchmarkSnapshotChecks(b *testing.B) {
	service, principal := buildFixtures(b, 16)
	snapshot, err := service.For(context.Background(), principal)
	if err != nil {
		b.Fatalf("snapshot build failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := snapshot.HasPermission(permissions.CodeViewWorkOrders); err != nil {
			b.Fatalf("check failed: %v", err)
		}
		if _, err := snapshot.PermissionScope(permissions.CodeViewWorkOrders); err != nil {
			b.Fatalf("scope failed: %v", err)
		}
	}
}

// BenchmarkFullAccessSnapshot measures the superuser short-circuit.
func BenchmarkFullAccessSnapshot(b *testing.B) {
	service, _ := buildFixtures(b, 16)
	principal := permissions.Principal{ID: 2, Username: "root", IsSuperuser: true}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := service.For(ctx, principal); err != nil {
			b.Fatalf("snapshot build failed: %v", err)
		}
	}
}

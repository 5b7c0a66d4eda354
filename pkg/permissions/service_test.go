package permissions

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/gatehouse/pkg/observability"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(MappingsTableSQL)
	require.NoError(t, err)

	return db
}

// staticResolver returns a fixed group set; service tests exercise the
// resolution algorithm, not membership lookup.
type staticResolver struct {
	groups map[int64][]GroupIdentity
}

func (r *staticResolver) GroupsFor(ctx context.Context, principal Principal) ([]GroupIdentity, error) {
	groups := r.groups[principal.ID]
	return append(groups, UserGroup(principal.ID)), nil
}

func newTestService(t *testing.T, db *sql.DB, groups map[int64][]GroupIdentity) *Service {
	t.Helper()
	store := NewPostgresStore(db, observability.NopLogger(), nil)
	return NewService(BuiltinCatalog(), &staticResolver{groups: groups}, store, observability.NopLogger(), nil)
}

func addMapping(t *testing.T, db *sql.DB, code string, target GroupIdentity, override *Scope, active bool) int64 {
	t.Helper()
	store := NewPostgresStore(db, observability.NopLogger(), nil)
	m := &Mapping{Code: code, Target: target, ScopeOverride: override, IsActive: active}
	require.NoError(t, store.CreateMapping(context.Background(), m))
	return m.ID
}

func TestDepartmentMappingGrantsDefaultScope(t *testing.T) {
	// Scoped code with default OWN granted via department: granted, and
	// the scope stays at the catalog default.
	db := setupTestDB(t)
	addMapping(t, db, CodeViewWorkOrders, DepartmentGroup(10), nil, true)

	svc := newTestService(t, db, map[int64][]GroupIdentity{
		1: {DepartmentGroup(10)},
	})

	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	allowed, err := snapshot.HasPermission(CodeViewWorkOrders)
	require.NoError(t, err)
	assert.True(t, allowed)

	scope, err := snapshot.PermissionScope(CodeViewWorkOrders)
	require.NoError(t, err)
	require.NotNil(t, scope)
	assert.Equal(t, ScopeOwn, *scope)
}

func TestScopeWidensAcrossGroups(t *testing.T) {
	// A second granting group with a wider override wins.
	db := setupTestDB(t)
	addMapping(t, db, CodeViewWorkOrders, DepartmentGroup(10), nil, true)
	addMapping(t, db, CodeViewWorkOrders, SpecialtyGroup(50), ScopePtr(ScopeAll), true)

	svc := newTestService(t, db, map[int64][]GroupIdentity{
		1: {DepartmentGroup(10), SpecialtyGroup(50)},
	})

	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	scope, err := snapshot.PermissionScope(CodeViewWorkOrders)
	require.NoError(t, err)
	require.NotNil(t, scope)
	assert.Equal(t, ScopeAll, *scope)
}

func TestUnknownCodeIsConfigurationError(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)

	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	_, err = snapshot.HasPermission("can_teleport")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = snapshot.PermissionScope("can_teleport")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestUngrantedCodeDeniesWithNilScope(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, map[int64][]GroupIdentity{
		1: {DepartmentGroup(10)},
	})

	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	allowed, err := snapshot.HasPermission(CodeApproveAbsences)
	require.NoError(t, err)
	assert.False(t, allowed)

	scope, err := snapshot.PermissionScope(CodeApproveAbsences)
	require.NoError(t, err)
	assert.Nil(t, scope)
}

func TestSuperuserHasEverything(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)

	snapshot, err := svc.For(context.Background(), Principal{ID: 1, IsSuperuser: true})
	require.NoError(t, err)
	assert.True(t, snapshot.HasFullAccess())

	for _, code := range BuiltinCatalog().Codes() {
		allowed, err := snapshot.HasPermission(code)
		require.NoError(t, err)
		assert.True(t, allowed, code)

		def, err := BuiltinCatalog().Get(code)
		require.NoError(t, err)

		scope, err := snapshot.PermissionScope(code)
		require.NoError(t, err)
		if def.SupportsScope {
			require.NotNil(t, scope, code)
			assert.Equal(t, ScopeAll, *scope, code)
		} else {
			assert.Nil(t, scope, code)
		}
	}

	assert.Equal(t, BuiltinCatalog().Codes(), snapshot.AllPermissions())
}

func TestStaffHasFullAccess(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)

	snapshot, err := svc.For(context.Background(), Principal{ID: 2, IsStaff: true})
	require.NoError(t, err)
	assert.True(t, snapshot.HasFullAccess())

	allowed, err := snapshot.HasPermission(CodeManagePermissions)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestUnscopedCodeAlwaysNilScope(t *testing.T) {
	// Scope is not a meaningful concept for unscoped codes, no matter
	// what mappings exist.
	db := setupTestDB(t)
	addMapping(t, db, CodeUseChat, UserGroup(1), nil, true)

	svc := newTestService(t, db, nil)
	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	allowed, err := snapshot.HasPermission(CodeUseChat)
	require.NoError(t, err)
	assert.True(t, allowed)

	scope, err := snapshot.PermissionScope(CodeUseChat)
	require.NoError(t, err)
	assert.Nil(t, scope)
}

func TestAllPermissionsMatchesHasPermission(t *testing.T) {
	db := setupTestDB(t)
	addMapping(t, db, CodeViewWorkOrders, DepartmentGroup(10), nil, true)
	addMapping(t, db, CodeUseChat, RoleGroup(100), nil, true)
	addMapping(t, db, CodeApproveAbsences, DepartmentGroup(99), nil, true) // not U's department

	svc := newTestService(t, db, map[int64][]GroupIdentity{
		1: {DepartmentGroup(10), RoleGroup(100)},
	})

	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	all := snapshot.AllPermissions()
	assert.ElementsMatch(t, []string{CodeViewWorkOrders, CodeUseChat}, all)

	granted := make(map[string]bool, len(all))
	for _, code := range all {
		granted[code] = true
	}
	for _, code := range BuiltinCatalog().Codes() {
		allowed, err := snapshot.HasPermission(code)
		require.NoError(t, err)
		assert.Equal(t, granted[code], allowed, code)
	}
}

func TestDeactivatedMappingGrantsNothing(t *testing.T) {
	db := setupTestDB(t)
	id := addMapping(t, db, CodeViewWorkOrders, DepartmentGroup(10), nil, true)

	groups := map[int64][]GroupIdentity{1: {DepartmentGroup(10)}}
	svc := newTestService(t, db, groups)

	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)
	allowed, err := snapshot.HasPermission(CodeViewWorkOrders)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Deactivate and re-resolve: no latent grant persists.
	store := NewPostgresStore(db, observability.NopLogger(), nil)
	require.NoError(t, store.SetMappingActive(context.Background(), id, false))

	snapshot, err = svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)
	allowed, err = snapshot.HasPermission(CodeViewWorkOrders)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestActivatingMappingOnlyAddsGrants(t *testing.T) {
	db := setupTestDB(t)
	addMapping(t, db, CodeViewWorkOrders, DepartmentGroup(10), nil, true)

	groups := map[int64][]GroupIdentity{1: {DepartmentGroup(10)}}
	svc := newTestService(t, db, groups)

	before, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	addMapping(t, db, CodeUseChat, DepartmentGroup(10), nil, true)

	after, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	for _, code := range before.AllPermissions() {
		allowed, err := after.HasPermission(code)
		require.NoError(t, err)
		assert.True(t, allowed, "new mapping must never revoke %s", code)
	}
	allowed, err := after.HasPermission(CodeUseChat)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMalformedOverrideNeverGrants(t *testing.T) {
	// An override on an unscoped permission is malformed; the whole
	// mapping is skipped, not partially honored.
	db := setupTestDB(t)
	addMapping(t, db, CodeUseChat, UserGroup(1), ScopePtr(ScopeAll), true)

	svc := newTestService(t, db, nil)
	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	allowed, err := snapshot.HasPermission(CodeUseChat)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestMappingWithUnknownCodeSkipped(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Exec(`
		INSERT INTO permission_mappings (permission_code, entity_type, entity_id, is_active)
		VALUES ('can_teleport', 'user', 1, 1)
	`)
	require.NoError(t, err)
	addMapping(t, db, CodeUseChat, UserGroup(1), nil, true)

	svc := newTestService(t, db, nil)
	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	// The well-formed mapping still resolves.
	assert.Equal(t, []string{CodeUseChat}, snapshot.AllPermissions())
}

func TestDirectUserGrantWidensRoleGrant(t *testing.T) {
	// Direct per-user mapping adds to the widen-set alongside broader
	// group grants; it does not replace them.
	db := setupTestDB(t)
	addMapping(t, db, CodeViewReports, RoleGroup(100), ScopePtr(ScopeAll), true)
	addMapping(t, db, CodeViewReports, UserGroup(1), ScopePtr(ScopeOwn), true)

	svc := newTestService(t, db, map[int64][]GroupIdentity{
		1: {RoleGroup(100)},
	})

	snapshot, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)

	scope, err := snapshot.PermissionScope(CodeViewReports)
	require.NoError(t, err)
	require.NotNil(t, scope)
	assert.Equal(t, ScopeAll, *scope)
}

func TestSnapshotsAreIndependent(t *testing.T) {
	db := setupTestDB(t)
	addMapping(t, db, CodeViewWorkOrders, DepartmentGroup(10), nil, true)

	svc := newTestService(t, db, map[int64][]GroupIdentity{
		1: {DepartmentGroup(10)},
		2: {DepartmentGroup(20)},
	})

	s1, err := svc.For(context.Background(), Principal{ID: 1})
	require.NoError(t, err)
	s2, err := svc.For(context.Background(), Principal{ID: 2})
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID, s2.ID)

	a1, err := s1.HasPermission(CodeViewWorkOrders)
	require.NoError(t, err)
	a2, err := s2.HasPermission(CodeViewWorkOrders)
	require.NoError(t, err)
	assert.True(t, a1)
	assert.False(t, a2)
}

package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/gatehouse/pkg/observability"
)

func setupHandler(t *testing.T) (*Handler, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	svc := NewService(BuiltinCatalog(), &staticResolver{groups: map[int64][]GroupIdentity{
		1: {DepartmentGroup(10)},
	}}, store, observability.NopLogger(), nil)

	lookup := func(ctx context.Context, userID int64) (Principal, error) {
		switch userID {
		case 1:
			return Principal{ID: 1, Username: "nurse"}, nil
		case 2:
			return Principal{ID: 2, Username: "admin", IsSuperuser: true}, nil
		default:
			return Principal{}, fmt.Errorf("user not found: %d", userID)
		}
	}

	return NewHandler(svc, lookup, observability.NopLogger(), nil), store
}

func serveRequest(t *testing.T, h *Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	router := mux.NewRouter()
	h.RegisterRoutes(router)

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reqBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListCatalog(t *testing.T) {
	h, _ := setupHandler(t)

	rec := serveRequest(t, h, http.MethodGet, "/api/v1/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Permissions []Definition `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Permissions, BuiltinCatalog().Len())
}

func TestListCatalogByCategory(t *testing.T) {
	h, _ := setupHandler(t)

	rec := serveRequest(t, h, http.MethodGet, "/api/v1/permissions?category=chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Permissions []Definition `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Permissions)
	for _, def := range resp.Permissions {
		assert.Equal(t, CategoryChat, def.Category)
	}
}

func TestUserPermissionsEndpoint(t *testing.T) {
	h, store := setupHandler(t)
	store.Add(Mapping{Code: CodeViewWorkOrders, Target: DepartmentGroup(10), IsActive: true})

	rec := serveRequest(t, h, http.MethodGet, "/api/v1/users/1/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp userPermissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.UserID)
	assert.False(t, resp.FullAccess)
	assert.Equal(t, []string{CodeViewWorkOrders}, resp.Permissions)

	scope, ok := resp.Scopes[CodeViewWorkOrders]
	require.True(t, ok)
	require.NotNil(t, scope)
	assert.Equal(t, ScopeOwn, *scope)
}

func TestUserPermissionsSuperuser(t *testing.T) {
	h, _ := setupHandler(t)

	rec := serveRequest(t, h, http.MethodGet, "/api/v1/users/2/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp userPermissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.FullAccess)
	assert.Len(t, resp.Permissions, BuiltinCatalog().Len())
}

func TestUserPermissionsUnknownUser(t *testing.T) {
	h, _ := setupHandler(t)

	rec := serveRequest(t, h, http.MethodGet, "/api/v1/users/99/permissions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserGroupsEndpoint(t *testing.T) {
	h, _ := setupHandler(t)

	rec := serveRequest(t, h, http.MethodGet, "/api/v1/users/1/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		UserID int64           `json:"user_id"`
		Groups []GroupIdentity `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Groups, DepartmentGroup(10))
	assert.Contains(t, resp.Groups, UserGroup(1))
}

func TestCheckGranted(t *testing.T) {
	h, store := setupHandler(t)
	store.Add(Mapping{Code: CodeViewWorkOrders, Target: DepartmentGroup(10), ScopeOverride: ScopePtr(ScopeDepartment), IsActive: true})

	rec := serveRequest(t, h, http.MethodPost, "/api/v1/check", checkRequest{UserID: 1, Code: CodeViewWorkOrders})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp checkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)
	require.NotNil(t, resp.Scope)
	assert.Equal(t, ScopeDepartment, *resp.Scope)
}

func TestCheckDenied(t *testing.T) {
	h, _ := setupHandler(t)

	rec := serveRequest(t, h, http.MethodPost, "/api/v1/check", checkRequest{UserID: 1, Code: CodeModerateChat})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp checkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Allowed)
	assert.Nil(t, resp.Scope)
}

func TestCheckUnknownCodeFailsLoudly(t *testing.T) {
	h, _ := setupHandler(t)

	rec := serveRequest(t, h, http.MethodPost, "/api/v1/check", checkRequest{UserID: 1, Code: "can_teleport"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "can_teleport")
}

func TestCheckValidation(t *testing.T) {
	h, _ := setupHandler(t)

	rec := serveRequest(t, h, http.MethodPost, "/api/v1/check", checkRequest{Code: CodeUseChat})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveRequest(t, h, http.MethodPost, "/api/v1/check", checkRequest{UserID: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package permissions

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldline/gatehouse/pkg/httputil"
	"github.com/fieldline/gatehouse/pkg/observability"
)

// PrincipalLookup resolves the identity fields resolution needs for a
// user ID. Implemented by the directory; handlers use it to answer
// introspection requests about arbitrary users.
type PrincipalLookup func(ctx context.Context, userID int64) (Principal, error)

// Handler serves the permission introspection API: the catalog, a
// user's resolved permission set, and ad-hoc checks. It is a read-only
// surface; mappings are authored elsewhere.
type Handler struct {
	service    *Service
	principals PrincipalLookup
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewHandler creates the introspection handler. logger and metrics may
// be nil.
func NewHandler(service *Service, principals PrincipalLookup, logger *observability.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{
		service:    service,
		principals: principals,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterRoutes registers the introspection endpoints on the router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/permissions", h.ListCatalog).Methods("GET")
	router.HandleFunc("/api/v1/users/{id:[0-9]+}/permissions", h.UserPermissions).Methods("GET")
	router.HandleFunc("/api/v1/users/{id:[0-9]+}/groups", h.UserGroups).Methods("GET")
	router.HandleFunc("/api/v1/check", h.Check).Methods("POST")
}

// ListCatalog returns the permission definitions, optionally filtered
// by category.
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	category := httputil.ParseQueryString(r, "category", "")
	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions": h.service.Catalog().List(category),
	})
}

type userPermissionsResponse struct {
	UserID      int64             `json:"user_id"`
	FullAccess  bool              `json:"full_access"`
	Permissions []string          `json:"permissions"`
	Scopes      map[string]*Scope `json:"scopes"`
}

// UserPermissions resolves one user and returns every code they hold,
// with the effective scope for each scope-supporting code.
func (h *Handler) UserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	principal, err := h.principals(r.Context(), userID)
	if err != nil {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	snapshot, err := h.service.For(r.Context(), principal)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to build permission snapshot")
		httputil.WriteInternalError(w, err)
		return
	}

	resp := userPermissionsResponse{
		UserID:      userID,
		FullAccess:  snapshot.HasFullAccess(),
		Permissions: snapshot.AllPermissions(),
		Scopes:      make(map[string]*Scope),
	}
	for _, code := range resp.Permissions {
		scope, err := snapshot.PermissionScope(code)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		if scope != nil {
			resp.Scopes[code] = scope
		}
	}

	httputil.WriteSuccess(w, resp)
}

// UserGroups returns the group identities resolution would use for a
// user, for debugging mapping configuration.
func (h *Handler) UserGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	principal, err := h.principals(r.Context(), userID)
	if err != nil {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	snapshot, err := h.service.For(r.Context(), principal)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to build permission snapshot")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"full_access": snapshot.HasFullAccess(),
		"groups":      snapshot.Groups,
	})
}

type checkRequest struct {
	UserID int64  `json:"user_id"`
	Code   string `json:"code"`
}

type checkResponse struct {
	UserID  int64  `json:"user_id"`
	Code    string `json:"code"`
	Allowed bool   `json:"allowed"`
	Scope   *Scope `json:"scope,omitempty"`
}

// Check answers one (user, code) authorization question. Unknown codes
// are a configuration defect and fail the call rather than returning a
// silent deny.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "user_id") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Code, "code") {
		return
	}

	principal, err := h.principals(r.Context(), req.UserID)
	if err != nil {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	snapshot, err := h.service.For(r.Context(), principal)
	if err != nil {
		h.observeCheck(req.Code, "error")
		h.logger.WithError(err).WithField("user_id", req.UserID).Error("Failed to build permission snapshot")
		httputil.WriteInternalError(w, err)
		return
	}

	allowed, err := snapshot.HasPermission(req.Code)
	if err != nil {
		if IsConfigurationError(err) {
			h.observeCheck(req.Code, "config_error")
			if h.metrics != nil {
				h.metrics.ConfigurationErrorsTotal.Inc()
			}
			h.logger.WithError(err).Error("Permission check against unregistered code")
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		h.observeCheck(req.Code, "error")
		httputil.WriteInternalError(w, err)
		return
	}

	resp := checkResponse{
		UserID:  req.UserID,
		Code:    req.Code,
		Allowed: allowed,
	}
	if allowed {
		scope, err := snapshot.PermissionScope(req.Code)
		if err != nil {
			h.observeCheck(req.Code, "error")
			httputil.WriteInternalError(w, err)
			return
		}
		resp.Scope = scope
		h.observeCheck(req.Code, "granted")
	} else {
		h.observeCheck(req.Code, "denied")
	}

	httputil.WriteSuccess(w, resp)
}

func (h *Handler) observeCheck(code, outcome string) {
	if h.metrics != nil {
		h.metrics.PermissionChecksTotal.WithLabelValues(code, outcome).Inc()
	}
}

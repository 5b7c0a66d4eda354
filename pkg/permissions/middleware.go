package permissions

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/fieldline/gatehouse/pkg/contextkeys"
	"github.com/fieldline/gatehouse/pkg/httputil"
	"github.com/fieldline/gatehouse/pkg/observability"
)

// PrincipalFromContext returns the authenticated principal placed in
// the context by the surrounding platform's auth layer.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(contextkeys.PrincipalKey).(Principal)
	return principal, ok
}

// SnapshotFromContext returns the request's permission snapshot.
func SnapshotFromContext(ctx context.Context) (*Snapshot, bool) {
	snapshot, ok := ctx.Value(contextkeys.SnapshotKey).(*Snapshot)
	if !ok || snapshot == nil {
		return nil, false
	}
	return snapshot, true
}

// RequestIDMiddleware assigns each request a UUID, honoring an inbound
// X-Request-ID when present.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SnapshotMiddleware builds the permission snapshot for the request's
// principal, exactly once per request, and stores it in the context.
// Requests without a principal pass through without a snapshot; any
// downstream RequirePermission then denies them. The snapshot dies with
// the request: caching it across requests would let revoked access
// linger, which is a security defect rather than a performance win.
func SnapshotMiddleware(service *Service, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			snapshot, err := service.For(r.Context(), principal)
			if err != nil {
				logger.WithError(err).WithFields(map[string]interface{}{
					"user_id":    principal.ID,
					"request_id": contextkeys.GetRequestID(r.Context()),
				}).Error("Failed to build permission snapshot")
				httputil.WriteInternalError(w, err)
				return
			}

			ctx := contextkeys.WithSnapshot(r.Context(), snapshot)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission gates a route on a permission code. Missing
// principal or snapshot denies; an unknown code is a configuration
// defect and surfaces as a server error, not a silent deny.
func RequirePermission(code string, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snapshot, ok := SnapshotFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			allowed, err := snapshot.HasPermission(code)
			if err != nil {
				logger.WithError(err).WithField("code", code).Error("Permission check failed")
				httputil.WriteInternalError(w, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "permission denied")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

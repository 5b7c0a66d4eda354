package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fieldline/gatehouse/pkg/observability"
)

// MembershipResolver yields the group identities a principal belongs to:
// one department identity per active membership, one specialty identity
// per active assignment, one role identity per distinct role held, and
// exactly one user identity for direct grants. Inactive memberships
// contribute nothing.
type MembershipResolver interface {
	GroupsFor(ctx context.Context, principal Principal) ([]GroupIdentity, error)
}

// Service owns the resolution algorithm. It combines the catalog, the
// membership resolver and the mapping store into per-principal decision
// snapshots. The service itself is stateless; all state lives in the
// snapshot it hands out.
type Service struct {
	catalog  *Catalog
	resolver MembershipResolver
	store    MappingStore
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// NewService creates a permission service. logger and metrics may be
// nil.
func NewService(catalog *Catalog, resolver MembershipResolver, store MappingStore, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		catalog:  catalog,
		resolver: resolver,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("gatehouse/permissions"),
	}
}

// Catalog returns the catalog the service resolves against.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// For builds the decision snapshot for one principal. A snapshot is
// valid for exactly one unit of work (one request, one task run) and
// must not be cached beyond it: organizational changes take effect on
// the next unit of work, and a stale full-access grant is a security
// defect, not a performance nicety.
func (s *Service) For(ctx context.Context, principal Principal) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "permissions.For",
		trace.WithAttributes(attribute.Int64("principal.id", principal.ID)))
	defer span.End()

	start := time.Now()
	snapshot := &Snapshot{
		ID:         uuid.New().String(),
		Principal:  principal,
		CreatedAt:  start,
		catalog:    s.catalog,
		fullAccess: principal.FullAccess(),
		granted:    make(map[string][]Scope),
	}

	// Superuser/staff short-circuit: no membership or mapping lookups.
	if snapshot.fullAccess {
		s.observeSnapshot(start, true, 0)
		return snapshot, nil
	}

	groups, err := s.resolver.GroupsFor(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve memberships for user %d: %w", principal.ID, err)
	}
	snapshot.Groups = groups

	mappings, err := s.store.MappingsFor(ctx, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings for user %d: %w", principal.ID, err)
	}

	for _, m := range mappings {
		if !m.IsActive {
			continue
		}

		def, err := s.catalog.Get(m.Code)
		if err != nil {
			s.integrityWarning(m, "unknown_code", "Mapping references a code missing from the catalog")
			continue
		}
		if m.ScopeOverride != nil && !def.SupportsScope {
			s.integrityWarning(m, "override_on_unscoped", "Mapping overrides scope on a permission that does not support scoping")
			continue
		}
		if m.ScopeOverride != nil && !m.ScopeOverride.Valid() {
			s.integrityWarning(m, "invalid_override", "Mapping has a scope override outside the defined scopes")
			continue
		}

		snapshot.granted[m.Code] = append(snapshot.granted[m.Code], m.EffectiveScope(def))
	}

	s.observeSnapshot(start, false, len(groups))
	return snapshot, nil
}

// integrityWarning logs a malformed mapping and counts it. The mapping
// is ignored; it never produces a grant.
func (s *Service) integrityWarning(m Mapping, reason, message string) {
	s.logger.WithFields(map[string]interface{}{
		"mapping_id": m.ID,
		"code":       m.Code,
		"target":     m.Target.String(),
		"reason":     reason,
	}).Warn(message)
	if s.metrics != nil {
		s.metrics.IntegrityWarningsTotal.WithLabelValues(reason).Inc()
	}
}

func (s *Service) observeSnapshot(start time.Time, fullAccess bool, groupCount int) {
	if s.metrics == nil {
		return
	}
	s.metrics.SnapshotsTotal.WithLabelValues(fmt.Sprintf("%t", fullAccess)).Inc()
	s.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	if !fullAccess {
		s.metrics.GroupsResolved.Observe(float64(groupCount))
	}
}

// Snapshot is an immutable per-unit-of-work view of one principal's
// permissions. All queries against it are pure lookups on data resolved
// at construction time, so a snapshot can answer any number of checks
// without touching the stores, and snapshots for different principals
// share no mutable state.
type Snapshot struct {
	ID        string
	Principal Principal
	Groups    []GroupIdentity
	CreatedAt time.Time

	catalog    *Catalog
	fullAccess bool
	granted    map[string][]Scope
}

// HasFullAccess reports whether the principal bypasses mapping
// resolution entirely (superuser or staff).
func (s *Snapshot) HasFullAccess() bool {
	return s.fullAccess
}

// HasPermission reports whether the principal holds code through any of
// their groups. Any one granting group suffices. Unknown codes fail with
// a ConfigurationError, never a silent false.
func (s *Snapshot) HasPermission(code string) (bool, error) {
	if s.fullAccess {
		return true, nil
	}
	if _, err := s.catalog.Get(code); err != nil {
		return false, err
	}
	return len(s.granted[code]) > 0, nil
}

// PermissionScope returns the effective scope for code, or nil when the
// permission does not support scoping or is not granted. Callers must
// treat nil as "deny unless HasPermission said otherwise"; handing nil
// to a scope filter yields an empty result set.
//
// Across groups the widest scope wins: HasPermission already unions
// grants, so scope widens consistently rather than silently narrowing
// access implied by membership in a more permissive group.
func (s *Snapshot) PermissionScope(code string) (*Scope, error) {
	def, err := s.catalog.Get(code)
	if err != nil {
		return nil, err
	}
	if !def.SupportsScope {
		return nil, nil
	}
	if s.fullAccess {
		scope := ScopeAll
		return &scope, nil
	}

	scopes := s.granted[code]
	if len(scopes) == 0 {
		return nil, nil
	}

	max := scopes[0]
	for _, scope := range scopes[1:] {
		max = max.Wider(scope)
	}
	return &max, nil
}

// AllPermissions returns every catalog code the principal holds, in
// sorted order. It reuses the grants resolved at snapshot construction
// rather than re-running resolution per code.
func (s *Snapshot) AllPermissions() []string {
	if s.fullAccess {
		return s.catalog.Codes()
	}

	codes := make([]string, 0, len(s.granted))
	for _, code := range s.catalog.Codes() {
		if len(s.granted[code]) > 0 {
			codes = append(codes, code)
		}
	}
	return codes
}

package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fieldline/gatehouse/pkg/observability"
)

// MappingStore supplies the persisted permission mappings the resolution
// algorithm consumes. Implementations only ever return active mappings;
// inactive ones contribute nothing, with no partial credit.
type MappingStore interface {
	// MappingsFor returns every active mapping whose target is one of
	// the given group identities.
	MappingsFor(ctx context.Context, groups []GroupIdentity) ([]Mapping, error)

	// AllActive returns every active mapping. Used by the integrity
	// sweeper, not by per-request resolution.
	AllActive(ctx context.Context) ([]Mapping, error)
}

// PostgresStore reads permission mappings from a SQL database. It works
// against PostgreSQL in production and SQLite in tests; the queries
// avoid engine-specific SQL for that reason.
type PostgresStore struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPostgresStore creates a mapping store over db. logger and metrics
// may be nil.
func NewPostgresStore(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *PostgresStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PostgresStore{db: db, logger: logger, metrics: metrics}
}

const mappingColumns = "id, permission_code, entity_type, entity_id, scope_override, is_active, created_at, updated_at"

// MappingsFor returns active mappings targeting any of the given groups
// in a single query. Rows with an unparseable scope override are skipped
// and logged; a row the engine cannot interpret must never become a
// grant.
func (s *PostgresStore) MappingsFor(ctx context.Context, groups []GroupIdentity) ([]Mapping, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(groups))
	args := make([]interface{}, 0, len(groups)*2)
	for _, g := range groups {
		conditions = append(conditions, fmt.Sprintf("(entity_type = $%d AND entity_id = $%d)", len(args)+1, len(args)+2))
		args = append(args, string(g.Kind), g.ID)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM permission_mappings
		WHERE is_active = TRUE AND (%s)
		ORDER BY id ASC
	`, mappingColumns, strings.Join(conditions, " OR "))

	return s.queryMappings(ctx, query, args...)
}

// AllActive returns every active mapping in id order.
func (s *PostgresStore) AllActive(ctx context.Context) ([]Mapping, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM permission_mappings
		WHERE is_active = TRUE
		ORDER BY id ASC
	`, mappingColumns)

	return s.queryMappings(ctx, query)
}

func (s *PostgresStore) queryMappings(ctx context.Context, query string, args ...interface{}) ([]Mapping, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observeQuery(start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission mappings: %w", err)
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		var m Mapping
		var entityType string
		var scopeOverride sql.NullString

		err := rows.Scan(
			&m.ID,
			&m.Code,
			&entityType,
			&m.Target.ID,
			&scopeOverride,
			&m.IsActive,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission mapping: %w", err)
		}

		m.Target.Kind = GroupKind(entityType)
		if !m.Target.Kind.Valid() {
			s.logger.WithFields(map[string]interface{}{
				"mapping_id":  m.ID,
				"entity_type": entityType,
			}).Warn("Skipping mapping with unknown entity type")
			continue
		}

		if scopeOverride.Valid {
			scope, err := ParseScope(scopeOverride.String)
			if err != nil {
				s.logger.WithFields(map[string]interface{}{
					"mapping_id":     m.ID,
					"scope_override": scopeOverride.String,
				}).Warn("Skipping mapping with unparseable scope override")
				continue
			}
			m.ScopeOverride = &scope
		}

		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}

func (s *PostgresStore) observeQuery(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreQueriesTotal.WithLabelValues("postgres", status).Inc()
	s.metrics.StoreQueryDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
}

// CreateMapping inserts a mapping. Mappings are authored by the
// surrounding platform; this exists for fixtures and admin tooling, not
// for the resolution path.
func (s *PostgresStore) CreateMapping(ctx context.Context, m *Mapping) error {
	var scopeOverride interface{}
	if m.ScopeOverride != nil {
		if !m.ScopeOverride.Valid() {
			return fmt.Errorf("invalid scope override %d for mapping", int(*m.ScopeOverride))
		}
		scopeOverride = m.ScopeOverride.String()
	}

	query := `
		INSERT INTO permission_mappings (permission_code, entity_type, entity_id, scope_override, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		m.Code,
		string(m.Target.Kind),
		m.Target.ID,
		scopeOverride,
		m.IsActive,
		now,
		now,
	).Scan(&m.ID)

	if err != nil {
		return fmt.Errorf("failed to create permission mapping: %w", err)
	}

	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// SetMappingActive flips the is_active flag on a mapping.
func (s *PostgresStore) SetMappingActive(ctx context.Context, mappingID int64, active bool) error {
	query := `
		UPDATE permission_mappings
		SET is_active = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, active, time.Now(), mappingID)
	if err != nil {
		return fmt.Errorf("failed to update permission mapping: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("permission mapping not found: %d", mappingID)
	}

	return nil
}

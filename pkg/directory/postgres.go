package directory

import (
	"context"
	"database/sql"
	"fmt"
)

// ErrUserNotFound is returned when a user ID has no directory row.
var ErrUserNotFound = fmt.Errorf("user not found")

// PostgresDirectory reads organizational data from the platform
// database. All queries are read-only; this package owns none of the
// tables it reads.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory over db.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// User retrieves a user by ID.
func (d *PostgresDirectory) User(ctx context.Context, userID int64) (User, error) {
	query := `
		SELECT id, username, is_superuser, is_staff, is_active
		FROM users
		WHERE id = $1
	`

	var user User
	err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Username,
		&user.IsSuperuser,
		&user.IsStaff,
		&user.IsActive,
	)
	if err == sql.ErrNoRows {
		return User{}, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// ActiveMemberships returns the user's active department memberships.
// The is_active filter lives in SQL: inactive memberships contribute
// nothing, with no partial credit.
func (d *PostgresDirectory) ActiveMemberships(ctx context.Context, userID int64) ([]DepartmentMembership, error) {
	query := `
		SELECT id, user_id, department_id, role_id, is_active, is_primary
		FROM department_memberships
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query department memberships: %w", err)
	}
	defer rows.Close()

	var memberships []DepartmentMembership
	for rows.Next() {
		var m DepartmentMembership
		var roleID sql.NullInt64

		err := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.DepartmentID,
			&roleID,
			&m.IsActive,
			&m.IsPrimary,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan department membership: %w", err)
		}

		if roleID.Valid {
			m.RoleID = roleID.Int64
		}

		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// ActiveSpecialties returns the user's active specialty assignments.
func (d *PostgresDirectory) ActiveSpecialties(ctx context.Context, userID int64) ([]SpecialtyAssignment, error) {
	query := `
		SELECT id, user_id, specialty_id, is_active
		FROM specialty_assignments
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query specialty assignments: %w", err)
	}
	defer rows.Close()

	var assignments []SpecialtyAssignment
	for rows.Next() {
		var a SpecialtyAssignment

		err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.SpecialtyID,
			&a.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan specialty assignment: %w", err)
		}

		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

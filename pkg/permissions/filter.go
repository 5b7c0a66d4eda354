package permissions

import (
	"fmt"
	"strings"
)

// ScopeFilter is the contract business modules implement to narrow
// their own queries by a resolved scope. The ownership predicate is the
// module's business (assigned reviewer, recipient, creator); the engine
// only dictates the fail-closed discipline:
//
//   - ScopeAll: return the input unmodified.
//   - ScopeOwn: restrict to rows the user owns under the module's own
//     ownership predicate.
//   - ScopeDepartment: restrict to rows associated with departments the
//     user actively belongs to.
//   - Anything else, including a nil scope reached without a preceding
//     HasPermission check: return an empty result set, never an
//     unfiltered one.
type ScopeFilter interface {
	Clause(scope *Scope, userID int64, departmentIDs []int64) (string, []interface{})
}

// SQLScopeFilter implements the scope filter contract as a SQL WHERE
// fragment over a module's table. The fragment uses "?" placeholders;
// callers rebind for their driver if needed.
type SQLScopeFilter struct {
	// OwnerColumn holds the module's ownership predicate column, e.g.
	// "assigned_user_id" for work orders or "requester_id" for
	// absences.
	OwnerColumn string

	// DepartmentColumn associates rows with a department.
	DepartmentColumn string
}

// Clause returns the WHERE fragment for the given scope. Unsupported or
// nil scopes fail closed with a contradiction, matching no rows.
func (f SQLScopeFilter) Clause(scope *Scope, userID int64, departmentIDs []int64) (string, []interface{}) {
	if scope == nil {
		return "1 = 0", nil
	}

	switch *scope {
	case ScopeAll:
		return "1 = 1", nil
	case ScopeOwn:
		return fmt.Sprintf("%s = ?", f.OwnerColumn), []interface{}{userID}
	case ScopeDepartment:
		if len(departmentIDs) == 0 {
			return "1 = 0", nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(departmentIDs)), ", ")
		args := make([]interface{}, len(departmentIDs))
		for i, id := range departmentIDs {
			args[i] = id
		}
		return fmt.Sprintf("%s IN (%s)", f.DepartmentColumn, placeholders), args
	default:
		return "1 = 0", nil
	}
}

// FilterScoped applies the scope filter contract to an in-memory slice,
// for modules that hold their rows in memory rather than SQL. own and
// inDepartment are the module's ownership and department predicates.
func FilterScoped[T any](items []T, scope *Scope, own func(T) bool, inDepartment func(T) bool) []T {
	if scope == nil {
		return nil
	}

	switch *scope {
	case ScopeAll:
		return items
	case ScopeOwn:
		var out []T
		for _, item := range items {
			if own(item) {
				out = append(out, item)
			}
		}
		return out
	case ScopeDepartment:
		var out []T
		for _, item := range items {
			if inDepartment(item) {
				out = append(out, item)
			}
		}
		return out
	default:
		return nil
	}
}

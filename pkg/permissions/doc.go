// Package permissions implements permission and scope resolution for
// the workforce platform.
//
// Permission codes are defined once in an immutable Catalog. Grants are
// Mappings from a code to a group identity (a role, a department, a
// specialty, or a single user) with an optional scope override. The
// Service resolves one Principal at a time into a Snapshot: the
// principal's groups are resolved, all matching active mappings are
// loaded in one pass, and every subsequent check is a pure in-memory
// lookup.
//
// A grant from any one group suffices, and when several groups grant
// the same scoped code the widest scope wins (NONE < OWN < DEPARTMENT
// < ALL). Superusers and staff bypass resolution entirely. Unknown
// codes fail with ConfigurationError rather than a silent deny;
// malformed stored mappings are logged and skipped, never upgraded to
// a grant.
//
// A Snapshot belongs to exactly one unit of work and must not be
// cached across units of work.
package permissions

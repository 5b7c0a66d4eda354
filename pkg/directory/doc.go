// Package directory reads the platform's organizational data — users,
// department memberships, specialty assignments — and resolves it into
// the group identities the permission engine checks mappings against.
// It is strictly read-only: organizational changes happen in hire,
// transfer and assignment workflows owned elsewhere.
package directory

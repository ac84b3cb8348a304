// Package auth implements the authentication and authorization building blocks
// of the live runtime: the AuthContext attached to connections, the pluggable
// token Guard, JWT minting and validation, argon2id password handling, the
// Valkey-backed HTTP session store, and the login throttle.
package auth

import "slices"

// Context carries the identity attached to a connection after successful
// authentication: the subject id, its roles, and its granted permissions. The
// zero-value sentinel returned by Anonymous represents an unauthenticated
// connection.
type Context struct {
	Subject       string   `json:"subject"`
	Roles         []string `json:"roles,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	Authenticated bool     `json:"authenticated"`
}

// Anonymous returns the unauthenticated sentinel context.
func Anonymous() *Context {
	return &Context{}
}

// HasRole reports whether the context carries the given role.
func (c *Context) HasRole(role string) bool {
	return c != nil && slices.Contains(c.Roles, role)
}

// HasPermission reports whether the context carries the given permission.
func (c *Context) HasPermission(perm string) bool {
	return c != nil && slices.Contains(c.Permissions, perm)
}

// HasAllRoles reports whether the context carries every role in want.
func (c *Context) HasAllRoles(want []string) bool {
	for _, r := range want {
		if !c.HasRole(r) {
			return false
		}
	}
	return true
}

// HasAllPermissions reports whether the context carries every permission in
// want. When adminOverride is true, the literal "admin" permission satisfies
// any requirement.
func (c *Context) HasAllPermissions(want []string, adminOverride bool) bool {
	if adminOverride && c.HasPermission("admin") {
		return true
	}
	for _, p := range want {
		if !c.HasPermission(p) {
			return false
		}
	}
	return true
}

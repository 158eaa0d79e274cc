package auth

import (
	"context"
	"strings"
)

// Roles granted by DefaultRBACConfig.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// RBACConfig configures the RBAC authorizer.
type RBACConfig struct {
	// Roles defines role configurations.
	Roles map[string]RoleConfig

	// DefaultRole is assigned to identities without explicit roles.
	DefaultRole string
}

// RoleConfig defines permissions for a role.
type RoleConfig struct {
	// Permissions have the form "<resource>:<action>". Either part may end
	// in "*" to match any suffix, e.g. "dependencies*:read".
	Permissions []string

	// Inherits lists roles this role inherits from.
	Inherits []string
}

// DefaultRBACConfig returns the admin API's roles: viewers read dependency
// state; operators also reset dependencies and read the audit trail.
func DefaultRBACConfig() RBACConfig {
	return RBACConfig{
		Roles: map[string]RoleConfig{
			RoleViewer: {
				Permissions: []string{"dependencies*:" + ActionRead},
			},
			RoleOperator: {
				Permissions: []string{"dependencies*:" + ActionReset, "audit:" + ActionRead},
				Inherits:    []string{RoleViewer},
			},
		},
	}
}

// RBACAuthorizer provides role-based access control.
type RBACAuthorizer struct {
	config RBACConfig
}

// NewRBACAuthorizer creates a new RBAC authorizer.
func NewRBACAuthorizer(config RBACConfig) *RBACAuthorizer {
	return &RBACAuthorizer{config: config}
}

// Name returns "rbac".
func (a *RBACAuthorizer) Name() string {
	return "rbac"
}

// Authorize checks if the identity is allowed to perform the action.
func (a *RBACAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	if req.Subject == nil {
		return &AuthzError{
			Resource: req.Resource,
			Action:   req.Action,
			Reason:   "no identity provided",
		}
	}

	for _, roleName := range a.collectRoles(req.Subject) {
		role, ok := a.config.Roles[roleName]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if matchPermission(perm, req) {
				return nil
			}
		}
	}

	return &AuthzError{
		Subject:  req.Subject.Subject,
		Resource: req.Resource,
		Action:   req.Action,
		Reason:   "no role permits this action",
	}
}

func (a *RBACAuthorizer) collectRoles(subject *Identity) []string {
	seen := make(map[string]bool)
	var result []string

	queue := append([]string{}, subject.Roles...)
	if len(queue) == 0 && a.config.DefaultRole != "" {
		queue = append(queue, a.config.DefaultRole)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if seen[current] {
			continue
		}
		seen[current] = true
		result = append(result, current)

		if role, ok := a.config.Roles[current]; ok {
			for _, inherited := range role.Inherits {
				if !seen[inherited] {
					queue = append(queue, inherited)
				}
			}
		}
	}

	return result
}

// matchPattern matches a pattern against a value.
// Supports a trailing "*" as a wildcard for any characters.
func matchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(value, prefix)
	}
	return pattern == value
}

func matchPermission(perm string, req *AuthzRequest) bool {
	resource, action, ok := strings.Cut(perm, ":")
	if !ok {
		return false
	}
	return matchPattern(resource, req.Resource) && matchPattern(action, req.Action)
}

var _ Authorizer = (*RBACAuthorizer)(nil)

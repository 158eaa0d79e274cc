package auth

import (
	"context"
	"errors"
	"testing"
)

func TestRBACAuthorizer_DefaultRoles(t *testing.T) {
	authz := NewRBACAuthorizer(DefaultRBACConfig())
	if authz.Name() != "rbac" {
		t.Errorf("Name() = %v, want rbac", authz.Name())
	}

	viewer := &Identity{Subject: "val", Roles: []string{RoleViewer}}
	operator := &Identity{Subject: "olga", Roles: []string{RoleOperator}}
	nobody := &Identity{Subject: "ned"}

	tests := []struct {
		name     string
		subject  *Identity
		resource string
		action   string
		wantErr  bool
	}{
		{"nil subject", nil, "dependencies", ActionRead, true},
		{"viewer lists", viewer, "dependencies", ActionRead, false},
		{"viewer reads one", viewer, "dependencies/payment-service", ActionRead, false},
		{"viewer cannot reset", viewer, "dependencies/payment-service", ActionReset, true},
		{"viewer cannot read audit", viewer, "audit", ActionRead, true},
		{"operator resets", operator, "dependencies/payment-service", ActionReset, false},
		{"operator inherits read", operator, "dependencies", ActionRead, false},
		{"operator reads audit", operator, "audit", ActionRead, false},
		{"operator cannot reset audit", operator, "audit", ActionReset, true},
		{"no roles", nobody, "dependencies", ActionRead, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authz.Authorize(context.Background(), &AuthzRequest{
				Subject:  tt.subject,
				Resource: tt.resource,
				Action:   tt.action,
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Authorize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrForbidden) {
				t.Errorf("Authorize() error = %v, want ErrForbidden", err)
			}
		})
	}
}

func TestRBACAuthorizer_DefaultRole(t *testing.T) {
	cfg := DefaultRBACConfig()
	cfg.DefaultRole = RoleViewer
	authz := NewRBACAuthorizer(cfg)

	err := authz.Authorize(context.Background(), &AuthzRequest{
		Subject:  &Identity{Subject: "ned"},
		Resource: "dependencies",
		Action:   ActionRead,
	})
	if err != nil {
		t.Errorf("Authorize() error = %v, want default role to permit read", err)
	}
}

func TestRBACAuthorizer_InheritanceCycle(t *testing.T) {
	authz := NewRBACAuthorizer(RBACConfig{
		Roles: map[string]RoleConfig{
			"a": {Inherits: []string{"b"}},
			"b": {Inherits: []string{"a"}, Permissions: []string{"*:*"}},
		},
	})

	err := authz.Authorize(context.Background(), &AuthzRequest{
		Subject:  &Identity{Subject: "x", Roles: []string{"a"}},
		Resource: "audit",
		Action:   ActionRead,
	})
	if err != nil {
		t.Errorf("Authorize() error = %v, want permitted through cycle", err)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern, value string
		want           bool
	}{
		{"*", "anything", true},
		{"dependencies*", "dependencies", true},
		{"dependencies*", "dependencies/api", true},
		{"dependencies/payment-*", "dependencies/database", false},
		{"audit", "audit", true},
		{"audit", "audits", false},
	}

	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.value); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestAuthorizerFunc(t *testing.T) {
	deny := AuthorizerFunc(func(ctx context.Context, req *AuthzRequest) error {
		return &AuthzError{Resource: req.Resource, Action: req.Action, Reason: "maintenance"}
	})
	if deny.Name() != "func" {
		t.Errorf("Name() = %v, want func", deny.Name())
	}
	if err := deny.Authorize(context.Background(), &AuthzRequest{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize() error = %v, want ErrForbidden", err)
	}
}

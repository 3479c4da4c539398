// Package authctx carries identity and permission information through
// subcog's service layer, complementing any transport-layer auth with
// enforcement at the service boundary.
package authctx

import (
	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/errs"
)

// Permission is a service-level capability.
type Permission string

const (
	Read  Permission = "read"
	Write Permission = "write"
	Admin Permission = "admin"
)

// ParsePermission parses a case-insensitive scope string into a Permission.
func ParsePermission(s string) (Permission, bool) {
	switch toLower(s) {
	case "read":
		return Read, true
	case "write":
		return Write, true
	case "admin":
		return Admin, true
	default:
		return "", false
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// wildcardScope grants every permission.
const wildcardScope = "*"

// Context carries a subject identity, granted scopes, and org-scoping
// information through a single capture/recall call. The zero value is NOT
// a safe default — use Local() for CLI/unauthenticated callers.
type Context struct {
	subject string
	scopes  map[string]bool
	isLocal bool
	orgName string
	orgRole string
}

// Local returns a context with full permissions, for CLI/local callers
// where transport-layer auth does not apply.
func Local() Context {
	return Context{isLocal: true}
}

// FromScopes returns a non-local context granting exactly the given scopes.
func FromScopes(scopes []string) Context {
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return Context{scopes: set}
}

// Builder constructs a Context field by field.
type Builder struct {
	c Context
}

// NewBuilder starts an empty (non-local) context builder.
func NewBuilder() *Builder {
	return &Builder{c: Context{scopes: make(map[string]bool)}}
}

func (b *Builder) Subject(subject string) *Builder {
	b.c.subject = subject
	return b
}

func (b *Builder) Scope(scope string) *Builder {
	b.c.scopes[scope] = true
	return b
}

func (b *Builder) Scopes(scopes []string) *Builder {
	for _, s := range scopes {
		b.c.scopes[s] = true
	}
	return b
}

func (b *Builder) Local() *Builder {
	b.c.isLocal = true
	return b
}

func (b *Builder) OrgName(name string) *Builder {
	b.c.orgName = name
	return b
}

func (b *Builder) OrgRole(role string) *Builder {
	b.c.orgRole = role
	return b
}

func (b *Builder) Build() Context {
	return b.c
}

// WithSubject returns a copy of c with subject set.
func (c Context) WithSubject(subject string) Context {
	c.subject = subject
	return c
}

func (c Context) Subject() string { return c.subject }
func (c Context) IsLocal() bool   { return c.isLocal }
func (c Context) OrgName() string { return c.orgName }
func (c Context) OrgRole() string { return c.orgRole }

// HasOrgAccess reports whether c may perform org-scoped operations.
func (c Context) HasOrgAccess() bool {
	if c.isLocal {
		return true
	}
	return c.HasScope("org:read") || c.HasScope("org:write") || c.HasScope(wildcardScope)
}

// HasScope reports whether c was granted scope, accounting for local
// contexts (implicitly all scopes) and the wildcard scope.
func (c Context) HasScope(scope string) bool {
	if c.isLocal {
		return true
	}
	if c.scopes[wildcardScope] {
		return true
	}
	return c.scopes[scope]
}

// HasPermission reports whether c was granted permission.
func (c Context) HasPermission(permission Permission) bool {
	return c.HasScope(string(permission))
}

// HasAnyPermission reports whether c holds at least one of permissions.
func (c Context) HasAnyPermission(permissions ...Permission) bool {
	for _, p := range permissions {
		if c.HasPermission(p) {
			return true
		}
	}
	return false
}

// Require returns an *errs.Error with Kind Unauthorized if permission is
// not granted, logging the decision either way.
func (c Context) Require(logger *zap.Logger, op string, permission Permission) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.HasPermission(permission) {
		logger.Debug("authorization granted",
			zap.String("subject", c.subject),
			zap.String("permission", string(permission)),
			zap.Bool("is_local", c.isLocal),
		)
		return nil
	}
	logger.Warn("authorization denied",
		zap.String("subject", c.subject),
		zap.String("permission", string(permission)),
	)
	return errs.New(errs.Unauthorized, op, nil)
}

// RequireAny returns an *errs.Error with Kind Unauthorized unless c holds
// at least one of permissions.
func (c Context) RequireAny(op string, permissions ...Permission) error {
	if c.HasAnyPermission(permissions...) {
		return nil
	}
	return errs.New(errs.Unauthorized, op, nil)
}

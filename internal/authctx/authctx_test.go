package authctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subcog/subcog/internal/errs"
)

func TestLocalContext_HasAllPermissions(t *testing.T) {
	c := Local()
	assert.True(t, c.HasPermission(Read))
	assert.True(t, c.HasPermission(Write))
	assert.True(t, c.HasPermission(Admin))
	assert.NoError(t, c.Require(nil, "test.op", Admin))
}

func TestFromScopes(t *testing.T) {
	c := FromScopes([]string{"read", "write"})
	assert.True(t, c.HasPermission(Read))
	assert.True(t, c.HasPermission(Write))
	assert.False(t, c.HasPermission(Admin))
}

func TestRequire_Denied(t *testing.T) {
	c := FromScopes([]string{"read"})
	assert.NoError(t, c.Require(nil, "test.op", Read))

	err := c.Require(nil, "test.op", Write)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unauthorized))
}

func TestWildcardScope(t *testing.T) {
	c := FromScopes([]string{"*"})
	assert.True(t, c.HasPermission(Read))
	assert.True(t, c.HasPermission(Write))
	assert.True(t, c.HasPermission(Admin))
}

func TestWithSubject(t *testing.T) {
	c := FromScopes([]string{"read"}).WithSubject("user-123")
	assert.Equal(t, "user-123", c.Subject())
}

func TestBuilder(t *testing.T) {
	c := NewBuilder().Subject("test-user").Scope("read").Scope("write").Build()
	assert.Equal(t, "test-user", c.Subject())
	assert.True(t, c.HasPermission(Read))
	assert.True(t, c.HasPermission(Write))
	assert.False(t, c.HasPermission(Admin))
}

func TestBuilder_Scopes(t *testing.T) {
	c := NewBuilder().Scopes([]string{"read", "admin"}).Build()
	assert.True(t, c.HasPermission(Read))
	assert.False(t, c.HasPermission(Write))
	assert.True(t, c.HasPermission(Admin))
}

func TestHasAnyPermission(t *testing.T) {
	c := FromScopes([]string{"read"})
	assert.True(t, c.HasAnyPermission(Read, Write))
	assert.False(t, c.HasAnyPermission(Write, Admin))
}

func TestRequireAny(t *testing.T) {
	c := FromScopes([]string{"read"})
	assert.NoError(t, c.RequireAny("test.op", Read, Write))
	assert.Error(t, c.RequireAny("test.op", Write, Admin))
}

func TestParsePermission(t *testing.T) {
	p, ok := ParsePermission("read")
	assert.True(t, ok)
	assert.Equal(t, Read, p)

	p, ok = ParsePermission("WRITE")
	assert.True(t, ok)
	assert.Equal(t, Write, p)

	_, ok = ParsePermission("unknown")
	assert.False(t, ok)
}

func TestHasOrgAccess(t *testing.T) {
	assert.True(t, Local().HasOrgAccess())
	assert.False(t, FromScopes([]string{"read"}).HasOrgAccess())
	assert.True(t, FromScopes([]string{"org:read"}).HasOrgAccess())
}

package dn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lowerType(t string) string            { return strings.ToLower(t) }
func lowerValue(_ string, v string) string { return strings.ToLower(strings.TrimSpace(v)) }

func mustParse(t *testing.T, s string) DN {
	t.Helper()
	d, err := Parse(s, lowerType, lowerValue)
	require.NoError(t, err)
	return d
}

func TestParse_RootDSE(t *testing.T) {
	d := mustParse(t, "")
	assert.True(t, d.Empty())
	assert.Equal(t, "", d.Normalized())
}

func TestParse_Idempotent(t *testing.T) {
	d1 := mustParse(t, "cn=Alice,ou=People,dc=Example,dc=Com")
	d2, err := d1.Normalize(lowerType, lowerValue)
	require.NoError(t, err)
	assert.Equal(t, d1.Normalized(), d2.Normalized())
}

func TestEqual_CaseInsensitive(t *testing.T) {
	a := mustParse(t, "CN=Alice,OU=People,DC=Example,DC=Com")
	b := mustParse(t, "cn=alice,ou=people,dc=example,dc=com")
	assert.True(t, a.Equal(b))
}

func TestIsAncestorOf(t *testing.T) {
	root := mustParse(t, "dc=example,dc=com")
	mid := mustParse(t, "ou=Roles,dc=example,dc=com")
	leaf := mustParse(t, "cn=X,ou=Roles,dc=example,dc=com")

	assert.True(t, root.IsAncestorOf(mid))
	assert.True(t, root.IsAncestorOf(leaf))
	assert.True(t, mid.IsAncestorOf(leaf))
	assert.False(t, leaf.IsAncestorOf(mid))
	assert.False(t, mid.IsAncestorOf(mid))
}

func TestParent(t *testing.T) {
	leaf := mustParse(t, "cn=X,ou=Roles,dc=example,dc=com")
	parent, ok := leaf.Parent()
	require.True(t, ok)
	assert.Equal(t, mustParse(t, "ou=Roles,dc=example,dc=com").Normalized(), parent.Normalized())

	root := mustParse(t, "")
	_, ok = root.Parent()
	assert.False(t, ok)
}

func TestParse_MalformedRejected(t *testing.T) {
	_, err := Parse("cn", lowerType, lowerValue)
	require.Error(t, err)

	_, err = Parse("cn=foo\\", lowerType, lowerValue)
	require.Error(t, err)
}

func TestParse_MultiValuedRDN_OrderIndependent(t *testing.T) {
	a := mustParse(t, "cn=X+ou=Y,dc=example,dc=com")
	b := mustParse(t, "ou=Y+cn=X,dc=example,dc=com")
	assert.True(t, a.Equal(b))
}

func TestParse_EscapedSeparators(t *testing.T) {
	d := mustParse(t, `cn=Smith\, Jr.,dc=example,dc=com`)
	require.Equal(t, 3, d.Len())
	assert.Equal(t, "smith, jr.", d.RDN().Components[0].NormValue)
}

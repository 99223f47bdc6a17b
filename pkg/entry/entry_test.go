package entry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eqFold(a, b string) bool { return strings.EqualFold(a, b) }

func TestSetGet_CaseInsensitiveType(t *testing.T) {
	e := New("cn=alice,dc=example,dc=com")
	e.Set("CN", "Alice")

	a, ok := e.Get("cn")
	require.True(t, ok)
	assert.Equal(t, []string{"Alice"}, a.Values)
	assert.Equal(t, "CN", a.Type)
}

func TestAdd_AppendsToExisting(t *testing.T) {
	e := New("dc=example,dc=com")
	e.Add("mail", "a@example.com")
	e.Add("mail", "b@example.com")

	a, ok := e.Get("Mail")
	require.True(t, ok)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, a.Values)
}

func TestRemove_DropsAttributeAndOrder(t *testing.T) {
	e := New("dc=example,dc=com")
	e.Set("cn", "Alice")
	e.Set("sn", "Smith")
	e.Remove("CN")

	assert.False(t, e.Has("cn"))
	assert.Len(t, e.Attributes(), 1)
	assert.Equal(t, "sn", e.Attributes()[0].Type)
}

func TestRemoveValues_PartialAndFull(t *testing.T) {
	e := New("dc=example,dc=com")
	e.Set("mail", "a@example.com", "b@example.com")

	e.RemoveValues("mail", eqFold, "a@example.com")
	a, ok := e.Get("mail")
	require.True(t, ok)
	assert.Equal(t, []string{"b@example.com"}, a.Values)

	e.RemoveValues("mail", eqFold, "b@example.com")
	assert.False(t, e.Has("mail"))
}

func TestHasObjectClass(t *testing.T) {
	e := New("cn=alice,dc=example,dc=com")
	e.Set("objectClass", "top", "person", "inetOrgPerson")

	assert.True(t, e.HasObjectClass("PERSON"))
	assert.False(t, e.HasObjectClass("groupOfNames"))
}

func TestClone_IsIndependent(t *testing.T) {
	e := New("cn=alice,dc=example,dc=com")
	e.Set("mail", "a@example.com")

	c := e.Clone()
	c.Add("mail", "b@example.com")
	c.Set("cn", "Alice Clone")

	orig, ok := e.Get("mail")
	require.True(t, ok)
	assert.Equal(t, []string{"a@example.com"}, orig.Values)

	cloned, ok := c.Get("mail")
	require.True(t, ok)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cloned.Values)
}

func TestAttributes_PreservesInsertionOrder(t *testing.T) {
	e := New("dc=example,dc=com")
	e.Set("objectClass", "top")
	e.Set("cn", "Alice")
	e.Set("sn", "Smith")

	var types []string
	for _, a := range e.Attributes() {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{"objectClass", "cn", "sn"}, types)
}

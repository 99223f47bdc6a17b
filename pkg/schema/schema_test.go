package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LoadsDefaults(t *testing.T) {
	s := New()

	at, ok := s.AttributeType("cn")
	require.True(t, ok)
	assert.Equal(t, "cn", at.Name())

	oc, ok := s.ObjectClass("inetOrgPerson")
	require.True(t, ok)
	assert.Equal(t, Structural, oc.Kind)
}

func TestAttributeType_LooksUpByAlternateName(t *testing.T) {
	s := New()

	byAlt, ok := s.AttributeType("commonName")
	require.True(t, ok)
	byCanon, ok := s.AttributeType("cn")
	require.True(t, ok)
	assert.Equal(t, byCanon.OID, byAlt.OID)
}

func TestCanonicalName_UnknownReturnsEmpty(t *testing.T) {
	s := New()
	assert.Equal(t, "", s.CanonicalName("bogusAttribute"))
	assert.Equal(t, "sn", s.CanonicalName("SN"))
}

func TestNormalizeValue_CaseIgnoreFoldsAndCollapsesSpace(t *testing.T) {
	s := New()
	assert.Equal(t, "alice smith", s.NormalizeValue("cn", "  Alice   Smith "))
}

func TestNormalizeValue_UnknownAttributeTrimsOnly(t *testing.T) {
	s := New()
	assert.Equal(t, "Some Value", s.NormalizeValue("x-custom", " Some Value "))
}

func TestEqual_UsesMatchingRule(t *testing.T) {
	s := New()
	assert.True(t, s.Equal("cn", "Alice Smith", "alice smith"))
	assert.False(t, s.Equal("cn", "Alice Smith", "Bob Smith"))
}

func TestRequiredAndPermitted_WalksSupChain(t *testing.T) {
	s := New()
	must, may, err := s.RequiredAndPermitted([]string{"inetOrgPerson"})
	require.NoError(t, err)

	assert.Contains(t, must, "cn")
	assert.Contains(t, must, "sn")
	assert.Contains(t, must, "objectclass")
	assert.Contains(t, may, "mail")
	assert.Contains(t, may, "title")
}

func TestRequiredAndPermitted_UnknownClass(t *testing.T) {
	s := New()
	_, _, err := s.RequiredAndPermitted([]string{"noSuchClass"})
	require.Error(t, err)
}

func TestValidateEntryClasses_RequiresStructural(t *testing.T) {
	s := New()
	err := s.ValidateEntryClasses([]string{"top", "simpleSecurityObject"})
	require.Error(t, err)

	err = s.ValidateEntryClasses([]string{"top", "person"})
	require.NoError(t, err)
}

func TestAddAttributeType_CustomDefinition(t *testing.T) {
	s := New()
	def := `( 1.3.6.1.4.1.99999.1.1 NAME 'employeeID' EQUALITY caseExactMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )`
	at, err := parseAttributeType(def)
	require.NoError(t, err)
	s.AddAttributeType(at)

	got, ok := s.AttributeType("employeeID")
	require.True(t, ok)
	assert.True(t, got.SingleValue)
}

func TestParseObjectClass_MultiValuedSupAndMust(t *testing.T) {
	def := `( 1.3.6.1.4.1.99999.2.1 NAME 'testAux' AUXILIARY MUST ( cn $ sn ) MAY ( description ) )`
	oc, err := parseObjectClass(def)
	require.NoError(t, err)
	assert.Equal(t, Auxiliary, oc.Kind)
	assert.ElementsMatch(t, []string{"cn", "sn"}, oc.Must)
	assert.Equal(t, []string{"description"}, oc.May)
}

func TestParseAttributeType_IgnoresXOrigin(t *testing.T) {
	def := `( 2.5.4.3 NAME ( 'cn' 'commonName' ) SUP name X-ORIGIN 'RFC4519' )`
	at, err := parseAttributeType(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"cn", "commonName"}, at.Names)
	assert.Equal(t, "name", at.Sup)
}

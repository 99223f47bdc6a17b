package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubschemaSubentry_RendersLoadedDefinitions(t *testing.T) {
	s := New()
	e := s.SubschemaSubentry()

	assert.Equal(t, SubschemaDN, e.DN)
	assert.True(t, e.HasObjectClass("subschema"))

	ats, ok := e.Get("attributeTypes")
	require.True(t, ok)
	foundCN := false
	for _, def := range ats.Values {
		assert.True(t, strings.HasPrefix(def, "( "), "definition %q must be parenthesized", def)
		if strings.Contains(def, "'cn'") {
			foundCN = true
		}
	}
	assert.True(t, foundCN, "cn definition must be rendered")

	ocs, ok := e.Get("objectClasses")
	require.True(t, ok)
	foundReferral := false
	for _, def := range ocs.Values {
		if strings.Contains(def, "'referral'") {
			assert.Contains(t, def, "MUST ref")
			foundReferral = true
		}
	}
	assert.True(t, foundReferral, "referral object class must be rendered")
}

func TestSubschemaSubentry_RoundTripsThroughParser(t *testing.T) {
	s := New()
	e := s.SubschemaSubentry()

	ats, _ := e.Get("attributeTypes")
	for _, def := range ats.Values {
		_, err := parseAttributeType(def)
		assert.NoError(t, err, "rendered definition %q must re-parse", def)
	}
	ocs, _ := e.Get("objectClasses")
	for _, def := range ocs.Values {
		_, err := parseObjectClass(def)
		assert.NoError(t, err, "rendered definition %q must re-parse", def)
	}
}

package ldif

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/opctx"
)

func TestParse_ContentRecordsAreAdds(t *testing.T) {
	doc := `dn: ou=system
objectClass: top
objectClass: organizationalUnit
ou: system

dn: cn=alice,ou=system
objectClass: person
cn: alice
sn: Liddell
`
	records, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ChangeAdd, records[0].Change)
	assert.Equal(t, "ou=system", records[0].DN)
	assert.Equal(t, Attr{Type: "objectClass", Value: "top"}, records[0].Attrs[0])
	assert.Equal(t, "cn=alice,ou=system", records[1].DN)
}

func TestParse_FoldedLineAndBase64(t *testing.T) {
	doc := "dn: cn=folded,ou=sys\n tem\nobjectClass: person\ndescription:: aGVsbG8gd29ybGQ=\n"
	records, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cn=folded,ou=system", records[0].DN)
	assert.Equal(t, "hello world", records[0].Attrs[1].Value)
}

func TestParse_CommentsIgnored(t *testing.T) {
	doc := "# seed data\ndn: ou=system\nobjectClass: top\n"
	records, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestParse_ChangeDelete(t *testing.T) {
	doc := "dn: cn=gone,ou=system\nchangetype: delete\n"
	records, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ChangeDelete, records[0].Change)
}

func TestParse_ChangeModifyBlocks(t *testing.T) {
	doc := `dn: cn=alice,ou=system
changetype: modify
add: description
description: first
description: second
-
delete: telephoneNumber
-
replace: sn
sn: Replaced
`
	records, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	mods := records[0].Mods
	require.Len(t, mods, 3)
	assert.Equal(t, opctx.ModAdd, mods[0].Op)
	assert.Equal(t, []string{"first", "second"}, mods[0].Values)
	assert.Equal(t, opctx.ModDelete, mods[1].Op)
	assert.Empty(t, mods[1].Values)
	assert.Equal(t, opctx.ModReplace, mods[2].Op)
}

func TestParse_ChangeModRDN(t *testing.T) {
	doc := `dn: cn=alice,ou=system
changetype: modrdn
newrdn: cn=carol
deleteoldrdn: 1
newsuperior: ou=people,ou=system
`
	records, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	rec := records[0]
	assert.Equal(t, ChangeModRDN, rec.Change)
	assert.Equal(t, "cn=carol", rec.NewRDN)
	assert.True(t, rec.DeleteOldRDN)
	assert.Equal(t, "ou=people,ou=system", rec.NewSuperior)
}

func TestParse_Malformed(t *testing.T) {
	cases := []string{
		"objectClass: top\n", // no dn
		"dn: cn=x\nchangetype: modify\nbogus: description\n", // bad mod op
		"dn: cn=x\nchangetype: modrdn\ndeleteoldrdn: 1\n",    // modrdn without newrdn
		"dn: cn=x\ndescription:: !!!notbase64\n",             // bad base64
	}
	for _, doc := range cases {
		_, err := Parse(strings.NewReader(doc))
		assert.Error(t, err, "doc %q", doc)
	}
}

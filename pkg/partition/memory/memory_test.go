package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/schema"
)

func testPartition(t *testing.T) (*Partition, *schema.Schema) {
	t.Helper()
	s := schema.New()
	suffix, err := dn.Parse("ou=system", s.CanonicalName, s.NormalizeValue)
	require.NoError(t, err)
	p := New(suffix, s, nil)

	root := entry.New(suffix.Normalized())
	root.Set("objectClass", "top", "organizationalUnit")
	root.Set("ou", "system")
	require.NoError(t, p.Add(context.Background(), root))
	return p, s
}

func mustDN(t *testing.T, s *schema.Schema, raw string) dn.DN {
	t.Helper()
	d, err := dn.Parse(raw, s.CanonicalName, s.NormalizeValue)
	require.NoError(t, err)
	return d
}

func addPerson(t *testing.T, p *Partition, s *schema.Schema, rawDN, cn, sn string) {
	t.Helper()
	d := mustDN(t, s, rawDN)
	e := entry.New(d.Normalized())
	e.Set("objectClass", "top", "person")
	e.Set("cn", cn)
	e.Set("sn", sn)
	require.NoError(t, p.Add(context.Background(), e))
}

func addOU(t *testing.T, p *Partition, s *schema.Schema, rawDN, ou string) {
	t.Helper()
	d := mustDN(t, s, rawDN)
	e := entry.New(d.Normalized())
	e.Set("objectClass", "top", "organizationalUnit")
	e.Set("ou", ou)
	require.NoError(t, p.Add(context.Background(), e))
}

func TestAdd_ThenLookupRoundTrips(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")

	got, err := p.Lookup(context.Background(), mustDN(t, s, "CN=Alice,OU=System"), nil)
	require.NoError(t, err)
	a, ok := got.Get("sn")
	require.True(t, ok)
	assert.Equal(t, []string{"Liddell"}, a.Values)
}

func TestAdd_DuplicateFails(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")

	d := mustDN(t, s, "cn=alice,ou=system")
	dup := entry.New(d.Normalized())
	dup.Set("objectClass", "top", "person")
	err := p.Add(context.Background(), dup)
	assert.Equal(t, dirserrors.EntryAlreadyExists, dirserrors.CodeOf(err))
}

func TestAdd_MissingParentFails(t *testing.T) {
	p, s := testPartition(t)
	d := mustDN(t, s, "cn=deep,ou=nowhere,ou=system")
	e := entry.New(d.Normalized())
	e.Set("objectClass", "top", "person")
	err := p.Add(context.Background(), e)
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(err))
}

func TestDelete_LeafOnly(t *testing.T) {
	p, s := testPartition(t)
	addOU(t, p, s, "ou=people,ou=system", "people")
	addPerson(t, p, s, "cn=alice,ou=people,ou=system", "alice", "Liddell")

	err := p.Delete(context.Background(), mustDN(t, s, "ou=people,ou=system"))
	assert.Equal(t, dirserrors.UnwillingToPerform, dirserrors.CodeOf(err))

	require.NoError(t, p.Delete(context.Background(), mustDN(t, s, "cn=alice,ou=people,ou=system")))
	require.NoError(t, p.Delete(context.Background(), mustDN(t, s, "ou=people,ou=system")))

	_, err = p.Lookup(context.Background(), mustDN(t, s, "ou=people,ou=system"), nil)
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(err))
}

func TestModify_AddReplaceDelete(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")
	target := mustDN(t, s, "cn=alice,ou=system")

	require.NoError(t, p.Modify(context.Background(), target, []opctx.Modification{
		{Op: opctx.ModAdd, Type: "description", Values: []string{"first"}},
		{Op: opctx.ModReplace, Type: "sn", Values: []string{"Replaced"}},
	}))
	e, err := p.Lookup(context.Background(), target, nil)
	require.NoError(t, err)
	sn, _ := e.Get("sn")
	assert.Equal(t, []string{"Replaced"}, sn.Values)

	require.NoError(t, p.Modify(context.Background(), target, []opctx.Modification{
		{Op: opctx.ModDelete, Type: "description"},
	}))
	e, _ = p.Lookup(context.Background(), target, nil)
	assert.False(t, e.Has("description"))
}

func TestModify_AddSkipsDuplicateUnderMatchingRule(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")
	target := mustDN(t, s, "cn=alice,ou=system")

	require.NoError(t, p.Modify(context.Background(), target, []opctx.Modification{
		{Op: opctx.ModAdd, Type: "cn", Values: []string{"ALICE"}},
	}))
	e, _ := p.Lookup(context.Background(), target, nil)
	cn, _ := e.Get("cn")
	assert.Equal(t, []string{"alice"}, cn.Values, "caseIgnoreMatch duplicate must not be added twice")
}

func TestRename_RekeysEntryAndMaintainsNamingAttribute(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")

	require.NoError(t, p.Rename(context.Background(), mustDN(t, s, "cn=alice,ou=system"), "cn=carol", true))

	_, err := p.Lookup(context.Background(), mustDN(t, s, "cn=alice,ou=system"), nil)
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(err))

	e, err := p.Lookup(context.Background(), mustDN(t, s, "cn=carol,ou=system"), nil)
	require.NoError(t, err)
	cn, _ := e.Get("cn")
	assert.Equal(t, []string{"carol"}, cn.Values)
}

func TestMove_RelocatesSubtree(t *testing.T) {
	p, s := testPartition(t)
	addOU(t, p, s, "ou=east,ou=system", "east")
	addOU(t, p, s, "ou=west,ou=system", "west")
	addOU(t, p, s, "ou=sales,ou=east,ou=system", "sales")
	addPerson(t, p, s, "cn=alice,ou=sales,ou=east,ou=system", "alice", "Liddell")

	require.NoError(t, p.Move(context.Background(),
		mustDN(t, s, "ou=sales,ou=east,ou=system"),
		mustDN(t, s, "ou=west,ou=system")))

	e, err := p.Lookup(context.Background(), mustDN(t, s, "cn=alice,ou=sales,ou=west,ou=system"), nil)
	require.NoError(t, err)
	assert.Equal(t, mustDN(t, s, "cn=alice,ou=sales,ou=west,ou=system").Normalized(), e.DN)

	_, err = p.Lookup(context.Background(), mustDN(t, s, "ou=sales,ou=east,ou=system"), nil)
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(err))
}

func TestSearch_ScopesAndFilter(t *testing.T) {
	p, s := testPartition(t)
	addOU(t, p, s, "ou=people,ou=system", "people")
	addPerson(t, p, s, "cn=alice,ou=people,ou=system", "alice", "Liddell")
	addPerson(t, p, s, "cn=bob,ou=people,ou=system", "bob", "Builder")

	collect := func(base string, scope opctx.Scope, filter string) []string {
		cur, err := p.Search(context.Background(), mustDN(t, s, base), scope, filter, 0)
		require.NoError(t, err)
		defer cur.Close()
		var dns []string
		for {
			ok, err := cur.Next()
			require.NoError(t, err)
			if !ok {
				return dns
			}
			e, err := cur.Get()
			require.NoError(t, err)
			dns = append(dns, e.DN)
		}
	}

	assert.Len(t, collect("ou=system", opctx.ScopeSubtree, "(objectClass=*)"), 4)
	assert.Len(t, collect("ou=people,ou=system", opctx.ScopeSingleLevel, "(objectClass=person)"), 2)
	assert.Equal(t, []string{"cn=alice,ou=people,ou=system"}, collect("ou=system", opctx.ScopeSubtree, "(cn=ALICE)"))
	assert.Len(t, collect("ou=people,ou=system", opctx.ScopeBaseObject, "(objectClass=organizationalUnit)"), 1)
}

func TestSearch_UnknownBaseFails(t *testing.T) {
	p, s := testPartition(t)
	_, err := p.Search(context.Background(), mustDN(t, s, "ou=void,ou=system"), opctx.ScopeSubtree, "", 0)
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(err))
}

func TestLookup_ProjectsRequestedAttributes(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")

	e, err := p.Lookup(context.Background(), mustDN(t, s, "cn=alice,ou=system"), []string{"cn"})
	require.NoError(t, err)
	assert.True(t, e.Has("cn"))
	assert.False(t, e.Has("sn"))
	assert.False(t, e.Has("objectClass"))
}

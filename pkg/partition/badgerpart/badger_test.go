package badgerpart

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

	p, err := Open(t.TempDir(), suffix, s, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

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

func TestAdd_RoundTripsThroughGob(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")

	got, err := p.Lookup(context.Background(), mustDN(t, s, "CN=Alice,OU=System"), nil)
	require.NoError(t, err)
	sn, ok := got.Get("sn")
	require.True(t, ok)
	assert.Equal(t, []string{"Liddell"}, sn.Values)
}

func TestAdd_DuplicateAndMissingParent(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")

	dup := entry.New(mustDN(t, s, "cn=alice,ou=system").Normalized())
	dup.Set("objectClass", "top", "person")
	assert.Equal(t, dirserrors.EntryAlreadyExists, dirserrors.CodeOf(p.Add(context.Background(), dup)))

	orphan := entry.New(mustDN(t, s, "cn=x,ou=void,ou=system").Normalized())
	orphan.Set("objectClass", "top", "person")
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(p.Add(context.Background(), orphan)))
}

func TestDelete_NonLeafRefused(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")

	err := p.Delete(context.Background(), mustDN(t, s, "ou=system"))
	assert.Equal(t, dirserrors.UnwillingToPerform, dirserrors.CodeOf(err))

	require.NoError(t, p.Delete(context.Background(), mustDN(t, s, "cn=alice,ou=system")))
	has, err := p.HasEntry(context.Background(), mustDN(t, s, "cn=alice,ou=system"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestModify_PersistsAcrossReads(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")
	target := mustDN(t, s, "cn=alice,ou=system")

	require.NoError(t, p.Modify(context.Background(), target, []opctx.Modification{
		{Op: opctx.ModReplace, Type: "sn", Values: []string{"Replaced"}},
	}))
	got, err := p.Lookup(context.Background(), target, nil)
	require.NoError(t, err)
	sn, _ := got.Get("sn")
	assert.Equal(t, []string{"Replaced"}, sn.Values)
}

func TestRename_RewritesKeysAndDN(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")

	require.NoError(t, p.Rename(context.Background(), mustDN(t, s, "cn=alice,ou=system"), "cn=carol", true))

	_, err := p.Lookup(context.Background(), mustDN(t, s, "cn=alice,ou=system"), nil)
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(err))

	got, err := p.Lookup(context.Background(), mustDN(t, s, "cn=carol,ou=system"), nil)
	require.NoError(t, err)
	assert.Equal(t, mustDN(t, s, "cn=carol,ou=system").Normalized(), got.DN)
	cn, _ := got.Get("cn")
	assert.Equal(t, []string{"carol"}, cn.Values)
}

func TestSearch_SubtreeAndOneLevel(t *testing.T) {
	p, s := testPartition(t)
	addPerson(t, p, s, "cn=alice,ou=system", "alice", "Liddell")
	addPerson(t, p, s, "cn=bob,ou=system", "bob", "Builder")

	cur, err := p.Search(context.Background(), mustDN(t, s, "ou=system"), opctx.ScopeSubtree, "(objectClass=person)", 0)
	require.NoError(t, err)
	defer cur.Close()
	count := 0
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)

	one, err := p.Search(context.Background(), mustDN(t, s, "ou=system"), opctx.ScopeSingleLevel, "(cn=bob)", 0)
	require.NoError(t, err)
	defer one.Close()
	ok, err := one.Next()
	require.NoError(t, err)
	require.True(t, ok)
	e, err := one.Get()
	require.NoError(t, err)
	assert.Equal(t, mustDN(t, s, "cn=bob,ou=system").Normalized(), e.DN)
}

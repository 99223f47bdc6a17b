package postgrespart

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/schema"
)

// The postgres conformance tests run only when DIRSRV_POSTGRES_TEST_DSN
// points at a scratch database, mirroring the env-gated integration test
// pattern used for external backends.
func testPartition(t *testing.T) (*Partition, *schema.Schema) {
	t.Helper()
	dsn := os.Getenv("DIRSRV_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("DIRSRV_POSTGRES_TEST_DSN not set; skipping postgres conformance tests")
	}

	s := schema.New()
	suffix, err := dn.Parse("ou=system", s.CanonicalName, s.NormalizeValue)
	require.NoError(t, err)

	p, err := Open(context.Background(), dsn, suffix, s, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = p.pool.Exec(context.Background(), `DELETE FROM entries`)
		p.Close()
	})
	_, err = p.pool.Exec(context.Background(), `DELETE FROM entries`)
	require.NoError(t, err)

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

func TestPostgres_AddLookupDelete(t *testing.T) {
	p, s := testPartition(t)
	ctx := context.Background()

	d := mustDN(t, s, "cn=alice,ou=system")
	e := entry.New(d.Normalized())
	e.Set("objectClass", "top", "person")
	e.Set("cn", "alice")
	e.Set("sn", "Liddell")
	require.NoError(t, p.Add(ctx, e))

	got, err := p.Lookup(ctx, d, nil)
	require.NoError(t, err)
	sn, _ := got.Get("sn")
	assert.Equal(t, []string{"Liddell"}, sn.Values)

	assert.Equal(t, dirserrors.EntryAlreadyExists, dirserrors.CodeOf(p.Add(ctx, e)))

	require.NoError(t, p.Delete(ctx, d))
	_, err = p.Lookup(ctx, d, nil)
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(err))
}

func TestPostgres_ModifyAndSearch(t *testing.T) {
	p, s := testPartition(t)
	ctx := context.Background()

	d := mustDN(t, s, "cn=bob,ou=system")
	e := entry.New(d.Normalized())
	e.Set("objectClass", "top", "person")
	e.Set("cn", "bob")
	e.Set("sn", "Builder")
	require.NoError(t, p.Add(ctx, e))

	require.NoError(t, p.Modify(ctx, d, []opctx.Modification{
		{Op: opctx.ModAdd, Type: "description", Values: []string{"builder"}},
	}))

	cur, err := p.Search(ctx, mustDN(t, s, "ou=system"), opctx.ScopeSubtree, "(description=builder)", 0)
	require.NoError(t, err)
	defer cur.Close()
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	got, err := cur.Get()
	require.NoError(t, err)
	assert.Equal(t, d.Normalized(), got.DN)
}

func TestPostgres_RenameRekeysSubtree(t *testing.T) {
	p, s := testPartition(t)
	ctx := context.Background()

	ou := entry.New(mustDN(t, s, "ou=east,ou=system").Normalized())
	ou.Set("objectClass", "top", "organizationalUnit")
	ou.Set("ou", "east")
	require.NoError(t, p.Add(ctx, ou))

	kid := entry.New(mustDN(t, s, "cn=alice,ou=east,ou=system").Normalized())
	kid.Set("objectClass", "top", "person")
	kid.Set("cn", "alice")
	kid.Set("sn", "Liddell")
	require.NoError(t, p.Add(ctx, kid))

	require.NoError(t, p.Rename(ctx, mustDN(t, s, "ou=east,ou=system"), "ou=west", true))

	got, err := p.Lookup(ctx, mustDN(t, s, "cn=alice,ou=west,ou=system"), nil)
	require.NoError(t, err)
	assert.Equal(t, mustDN(t, s, "cn=alice,ou=west,ou=system").Normalized(), got.DN)
}

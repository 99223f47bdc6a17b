package session

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

func testBinder(t *testing.T) (*Binder, dn.DN) {
	t.Helper()
	sch := schema.New()
	admin, err := dn.Parse("uid=admin,ou=system", sch.CanonicalName, sch.NormalizeValue)
	require.NoError(t, err)

	hashed, err := HashPassword([]byte("secret"))
	require.NoError(t, err)
	adminEntry := entry.New(admin.Normalized())
	adminEntry.Set("objectClass", "top", "account", "simpleSecurityObject")
	adminEntry.Set("uid", "admin")
	adminEntry.Set("userPassword", hashed)

	lookup := func(ctx context.Context, target dn.DN) (*entry.Entry, error) {
		if target.Equal(admin) {
			return adminEntry, nil
		}
		return nil, dirserrors.NoSuchObjectErr(target.String())
	}
	return NewBinder(lookup, nil, nil), admin
}

func TestSimpleBind_Succeeds(t *testing.T) {
	b, admin := testBinder(t)
	sess, err := b.Bind(context.Background(), &opctx.BindContext{
		Header:      opctx.Header{Context: context.Background(), Target: admin},
		Credentials: []byte("secret"),
		Mechanism:   "simple",
	})
	require.NoError(t, err)
	assert.Equal(t, admin.Normalized(), sess.DN)
	assert.Equal(t, "simple", sess.AuthMethod)

	got, ok := b.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess.DN, got.DN)

	b.Unbind(sess.ID)
	_, ok = b.Get(sess.ID)
	assert.False(t, ok)
}

func TestSimpleBind_WrongPassword(t *testing.T) {
	b, admin := testBinder(t)
	_, err := b.Bind(context.Background(), &opctx.BindContext{
		Header:      opctx.Header{Context: context.Background(), Target: admin},
		Credentials: []byte("nope"),
	})
	assert.Equal(t, dirserrors.InsufficientAccessRights, dirserrors.CodeOf(err))
}

func TestSimpleBind_UnknownDNIndistinguishableFromBadPassword(t *testing.T) {
	b, _ := testBinder(t)
	sch := schema.New()
	ghost, err := dn.Parse("uid=ghost,ou=system", sch.CanonicalName, sch.NormalizeValue)
	require.NoError(t, err)

	_, err = b.Bind(context.Background(), &opctx.BindContext{
		Header:      opctx.Header{Context: context.Background(), Target: ghost},
		Credentials: []byte("anything"),
	})
	assert.Equal(t, dirserrors.InsufficientAccessRights, dirserrors.CodeOf(err))
}

func TestAnonymousBind(t *testing.T) {
	b, _ := testBinder(t)
	sess, err := b.Bind(context.Background(), &opctx.BindContext{
		Header: opctx.Header{Context: context.Background()},
	})
	require.NoError(t, err)
	assert.Empty(t, sess.DN)
	assert.Equal(t, "anonymous", sess.AuthMethod)
}

func TestUnauthenticatedBindRejected(t *testing.T) {
	b, admin := testBinder(t)
	// A DN with no password is prohibited (RFC 4513 unauthenticated bind).
	_, err := b.Bind(context.Background(), &opctx.BindContext{
		Header: opctx.Header{Context: context.Background(), Target: admin},
	})
	assert.Equal(t, dirserrors.InsufficientAccessRights, dirserrors.CodeOf(err))
}

func TestGSSAPIBind_UnconfiguredFails(t *testing.T) {
	b, admin := testBinder(t)
	_, err := b.Bind(context.Background(), &opctx.BindContext{
		Header:      opctx.Header{Context: context.Background(), Target: admin},
		Credentials: []byte{0x6E, 0x00},
		Mechanism:   "GSSAPI",
	})
	assert.Equal(t, dirserrors.UnwillingToPerform, dirserrors.CodeOf(err))
}

func TestPrincipalMapper(t *testing.T) {
	m := NewPrincipalMapper(map[string]string{
		"admin@EXAMPLE.COM": "uid=admin,ou=system",
	}, "uid=%s,ou=people,dc=example,dc=com")

	mapped, err := m.Map("admin@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "uid=admin,ou=system", mapped)

	mapped, err = m.Map("alice@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "uid=alice,ou=people,dc=example,dc=com", mapped)

	strict := NewPrincipalMapper(nil, "")
	_, err = strict.Map("nobody@EXAMPLE.COM")
	assert.Error(t, err)
}

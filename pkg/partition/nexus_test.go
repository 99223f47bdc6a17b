package partition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
)

// fakePartition is an in-memory stand-in used only to exercise Nexus
// routing, independent of any concrete backend.
type fakePartition struct {
	suffix  dn.DN
	entries map[string]*entry.Entry
}

func newFakePartition(suffix string) *fakePartition {
	return &fakePartition{suffix: mustDN(suffix), entries: make(map[string]*entry.Entry)}
}

func (p *fakePartition) Suffix() dn.DN { return p.suffix }

func (p *fakePartition) Add(ctx context.Context, e *entry.Entry) error {
	p.entries[e.DN] = e
	return nil
}

func (p *fakePartition) Lookup(ctx context.Context, target dn.DN, attrs []string) (*entry.Entry, error) {
	e, ok := p.entries[target.String()]
	if !ok {
		return nil, dirserrors.NoSuchObjectErr(target.String())
	}
	return e, nil
}

func (p *fakePartition) Delete(ctx context.Context, target dn.DN) error {
	delete(p.entries, target.String())
	return nil
}

func (p *fakePartition) Modify(ctx context.Context, target dn.DN, mods []opctx.Modification) error {
	return nil
}

func (p *fakePartition) Rename(ctx context.Context, target dn.DN, newRDN string, deleteOldRDN bool) error {
	return nil
}

func (p *fakePartition) Move(ctx context.Context, target dn.DN, newParent dn.DN) error {
	return nil
}

func (p *fakePartition) MoveAndRename(ctx context.Context, target, newParent dn.DN, newRDN string, deleteOldRDN bool) error {
	return nil
}

func (p *fakePartition) Search(ctx context.Context, base dn.DN, scope opctx.Scope, filter string, sizeLimit int) (cursor.Cursor, error) {
	var out []*entry.Entry
	for _, e := range p.entries {
		out = append(out, e)
	}
	return cursor.FromSlice(out), nil
}

func (p *fakePartition) HasEntry(ctx context.Context, target dn.DN) (bool, error) {
	_, ok := p.entries[target.String()]
	return ok, nil
}

func mustDN(s string) dn.DN {
	d, err := dn.ParseNormalized(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNexus_RoutesToLongestMatchingSuffix(t *testing.T) {
	n := NewNexus()
	people := newFakePartition("ou=people,dc=example,dc=com")
	base := newFakePartition("dc=example,dc=com")
	require.NoError(t, n.Register(people))
	require.NoError(t, n.Register(base))

	e := entry.New("cn=alice,ou=people,dc=example,dc=com")
	require.NoError(t, n.Add(context.Background(), e))

	assert.Contains(t, people.entries, "cn=alice,ou=people,dc=example,dc=com")
	assert.NotContains(t, base.entries, "cn=alice,ou=people,dc=example,dc=com")
}

func TestNexus_LookupUnknownSuffixFails(t *testing.T) {
	n := NewNexus()
	require.NoError(t, n.Register(newFakePartition("dc=example,dc=com")))

	_, err := n.Lookup(context.Background(), mustDN("dc=other,dc=org"), nil)
	require.Error(t, err)
	assert.Equal(t, dirserrors.NoSuchObject, dirserrors.CodeOf(err))
}

func TestNexus_RootDSEAggregatesNamingContexts(t *testing.T) {
	n := NewNexus()
	require.NoError(t, n.Register(newFakePartition("dc=example,dc=com")))
	require.NoError(t, n.Register(newFakePartition("dc=other,dc=org")))

	dse := n.RootDSE()
	attr, ok := dse.Get("namingContexts")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"dc=example,dc=com", "dc=other,dc=org"}, attr.Values)
}

func TestNexus_MoveAcrossPartitionsFails(t *testing.T) {
	n := NewNexus()
	require.NoError(t, n.Register(newFakePartition("dc=example,dc=com")))
	require.NoError(t, n.Register(newFakePartition("dc=other,dc=org")))

	err := n.Move(context.Background(), mustDN("cn=alice,dc=example,dc=com"), mustDN("dc=other,dc=org"))
	require.Error(t, err)
	assert.Equal(t, dirserrors.AffectsMultipleDSAs, dirserrors.CodeOf(err))
}

func TestNexus_MoveWithinOnePartitionSucceeds(t *testing.T) {
	n := NewNexus()
	p := newFakePartition("dc=example,dc=com")
	require.NoError(t, n.Register(p))

	err := n.Move(context.Background(), mustDN("cn=alice,ou=people,dc=example,dc=com"), mustDN("ou=groups,dc=example,dc=com"))
	require.NoError(t, err)
}

func TestNexus_CompareTerminalMatchesCaseInsensitively(t *testing.T) {
	n := NewNexus()
	p := newFakePartition("dc=example,dc=com")
	require.NoError(t, n.Register(p))
	e := entry.New("cn=alice,dc=example,dc=com")
	e.Add("mail", "Alice@Example.com")
	require.NoError(t, n.Add(context.Background(), e))

	ok, err := n.CompareTerminal(context.Background(), &opctx.CompareContext{
		Header:        opctx.Header{Context: context.Background(), Target: mustDN("cn=alice,dc=example,dc=com")},
		AttributeType: "mail",
		Value:         "alice@example.com",
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

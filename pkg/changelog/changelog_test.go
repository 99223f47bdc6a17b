package changelog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
)

func TestAppend_AllocatesMonotonicRevisions(t *testing.T) {
	l := New()
	r1 := l.Append("cn=a,dc=example,dc=com", Add, "sess-1", ReverseOp{Kind: Delete}, time.Unix(0, 0))
	r2 := l.Append("cn=b,dc=example,dc=com", Add, "sess-1", ReverseOp{Kind: Delete}, time.Unix(0, 0))

	assert.Equal(t, uint64(1), r1)
	assert.Equal(t, uint64(2), r2)
	assert.Equal(t, uint64(2), l.CurrentRevision())
}

func TestRevert_ReplaysReverseOpsMostRecentFirst(t *testing.T) {
	l := New()
	e1 := entry.New("cn=a,dc=example,dc=com")
	e2 := entry.New("cn=b,dc=example,dc=com")
	l.Append(e1.DN, Add, "sess-1", ReverseOp{Kind: Delete, DN: e1.DN}, time.Unix(0, 0))
	l.Append(e2.DN, Add, "sess-1", ReverseOp{Kind: Delete, DN: e2.DN}, time.Unix(0, 0))

	var replayed []string
	err := l.Revert(context.Background(), 0, func(_ context.Context, e Entry) error {
		replayed = append(replayed, e.Reverse.DN)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{e2.DN, e1.DN}, replayed)
	assert.Equal(t, uint64(0), l.CurrentRevision())
}

func TestRevert_PartialToSavedRevision(t *testing.T) {
	l := New()
	saved := l.Append("cn=a,dc=example,dc=com", Add, "sess-1", ReverseOp{Kind: Delete, DN: "cn=a,dc=example,dc=com"}, time.Unix(0, 0))
	l.Append("cn=b,dc=example,dc=com", Add, "sess-1", ReverseOp{Kind: Delete, DN: "cn=b,dc=example,dc=com"}, time.Unix(0, 0))
	l.Append("cn=c,dc=example,dc=com", Add, "sess-1", ReverseOp{Kind: Delete, DN: "cn=c,dc=example,dc=com"}, time.Unix(0, 0))

	var replayed []string
	err := l.Revert(context.Background(), saved, func(_ context.Context, e Entry) error {
		replayed = append(replayed, e.Reverse.DN)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cn=c,dc=example,dc=com", "cn=b,dc=example,dc=com"}, replayed)
	assert.Equal(t, saved, l.CurrentRevision())
}

func TestRevert_TargetAheadOfHeadFails(t *testing.T) {
	l := New()
	l.Append("cn=a,dc=example,dc=com", Add, "sess-1", ReverseOp{}, time.Unix(0, 0))

	err := l.Revert(context.Background(), 5, func(context.Context, Entry) error { return nil })
	require.Error(t, err)
	assert.Equal(t, dirserrors.Unrevertable, dirserrors.CodeOf(err))
}

func TestRevert_FailureMidwayLeavesLogUnchanged(t *testing.T) {
	l := New()
	l.Append("cn=a,dc=example,dc=com", Add, "sess-1", ReverseOp{}, time.Unix(0, 0))
	l.Append("cn=b,dc=example,dc=com", Add, "sess-1", ReverseOp{}, time.Unix(0, 0))
	before := l.CurrentRevision()

	calls := 0
	err := l.Revert(context.Background(), 0, func(context.Context, Entry) error {
		calls++
		if calls == 2 {
			return assert.AnError
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, dirserrors.Unrevertable, dirserrors.CodeOf(err))
	assert.Equal(t, before, l.CurrentRevision())
}

func TestEntries_FiltersByRevisionRange(t *testing.T) {
	l := New()
	l.Append("cn=a,dc=example,dc=com", Add, "sess-1", ReverseOp{}, time.Unix(0, 0))
	l.Append("cn=b,dc=example,dc=com", Add, "sess-1", ReverseOp{}, time.Unix(0, 0))
	l.Append("cn=c,dc=example,dc=com", Add, "sess-1", ReverseOp{}, time.Unix(0, 0))

	got := l.Entries(1, 2)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Revision)
}

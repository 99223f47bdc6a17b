package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
)

func entries(dns ...string) []*entry.Entry {
	out := make([]*entry.Entry, len(dns))
	for i, dn := range dns {
		out[i] = entry.New(dn)
	}
	return out
}

func TestSliceCursor_GetFailsBeforeFirstNext(t *testing.T) {
	c := FromSlice(entries("cn=a", "cn=b"))
	assert.False(t, c.Available())
	_, err := c.Get()
	require.Error(t, err)
	assert.Equal(t, dirserrors.InvalidCursorPosition, dirserrors.CodeOf(err))
}

func TestSliceCursor_NextAdvancesAndGetReturnsCurrent(t *testing.T) {
	c := FromSlice(entries("cn=a", "cn=b"))

	ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	e, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, "cn=a", e.DN)

	ok, err = c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	e, _ = c.Get()
	assert.Equal(t, "cn=b", e.DN)

	ok, err = c.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.Available())
}

func TestSliceCursor_PreviousWalksBack(t *testing.T) {
	c := FromSlice(entries("cn=a", "cn=b"))
	c.AfterLast()

	ok, err := c.Previous()
	require.NoError(t, err)
	require.True(t, ok)
	e, _ := c.Get()
	assert.Equal(t, "cn=b", e.DN)
}

func TestSliceCursor_FirstLastPredicates(t *testing.T) {
	c := FromSlice(entries("cn=a", "cn=b", "cn=c"))
	c.Next()

	first, err := c.IsFirst()
	require.NoError(t, err)
	assert.True(t, first)

	last, err := c.IsLast()
	require.NoError(t, err)
	assert.False(t, last)
}

func TestSliceCursor_CloseThenOperationFails(t *testing.T) {
	c := FromSlice(entries("cn=a"))
	require.NoError(t, c.Close())

	_, err := c.Next()
	require.Error(t, err)
	assert.Equal(t, dirserrors.Closed, dirserrors.CodeOf(err))
}

func TestAnd_ChoosesSmallestDriverAndIntersects(t *testing.T) {
	small := FromSlice(entries("cn=a", "cn=b"))
	large := entries("cn=a", "cn=b", "cn=c", "cn=d")
	largeSet := map[string]bool{}
	for _, e := range large {
		largeSet[e.DN] = true
	}

	result, err := And([]Branch{
		{Cursor: small, Count: 2},
		{Count: 4, Eval: func(e *entry.Entry) (bool, error) {
			return largeSet[e.DN], nil
		}},
	})
	require.NoError(t, err)

	var got []string
	for {
		ok, err := result.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		e, _ := result.Get()
		got = append(got, e.DN)
	}
	assert.Equal(t, []string{"cn=a", "cn=b"}, got)
}

func TestAnd_EmptyIntersection(t *testing.T) {
	c := FromSlice(entries("cn=a", "cn=b"))
	result, err := And([]Branch{
		{Cursor: c, Count: 2},
		{Count: 0, Eval: func(*entry.Entry) (bool, error) { return false, nil }},
	})
	require.NoError(t, err)
	ok, err := result.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

package cursor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/entry"
)

// sampleEntry builds one person entry keyed the way an index cursor would
// produce it: in entry-UUID order.
func sampleEntry(cn string) *entry.Entry {
	e := entry.New("cn=" + strings.ToLower(cn) + ",ou=people,dc=example,dc=com")
	e.Set("objectClass", "top", "person")
	e.Set("cn", cn)
	e.Set("sn", strings.Fields(cn)[len(strings.Fields(cn))-1])
	return e
}

// TestAnd_IndexOrderAndReverseTraversal drives the equivalent of
// (&(cn=J*)(sn=*)) over the sample dataset: the cn=J* index branch is the
// driver (smaller candidate set) and results come back in its index order;
// walking the result cursor backward yields the exact reverse.
func TestAnd_IndexOrderAndReverseTraversal(t *testing.T) {
	// cn=J* candidates in index (UUID) order: 5, 6, 8.
	jStar := []*entry.Entry{
		sampleEntry("JOhnny WAlkeR"),
		sampleEntry("JIM BEAN"),
		sampleEntry("Jack Daniels"),
	}
	// sn=* candidates: everyone with a surname, a strictly larger set.
	snStar := append([]*entry.Entry{
		sampleEntry("Glen Livet"),
		sampleEntry("Wild Turkey"),
	}, jStar...)
	hasSN := func(e *entry.Entry) (bool, error) { return e.Has("sn"), nil }

	c, err := And([]Branch{
		{Cursor: FromSlice(jStar), Count: len(jStar), Eval: func(e *entry.Entry) (bool, error) {
			return strings.HasPrefix(strings.ToLower(firstValue(e, "cn")), "j"), nil
		}},
		{Cursor: FromSlice(snStar), Count: len(snStar), Eval: hasSN},
	})
	require.NoError(t, err)
	defer c.Close()

	var forward []string
	for {
		ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		e, err := c.Get()
		require.NoError(t, err)
		forward = append(forward, firstValue(e, "cn"))
	}
	assert.Equal(t, []string{"JOhnny WAlkeR", "JIM BEAN", "Jack Daniels"}, forward)

	var backward []string
	for {
		ok, err := c.Previous()
		require.NoError(t, err)
		if !ok {
			break
		}
		e, err := c.Get()
		require.NoError(t, err)
		backward = append(backward, firstValue(e, "cn"))
	}
	assert.Equal(t, []string{"Jack Daniels", "JIM BEAN", "JOhnny WAlkeR"}, backward)

	isBefore, err := c.IsBeforeFirst()
	require.NoError(t, err)
	assert.True(t, isBefore, "N next calls then N previous calls must end before-first")
}

func firstValue(e *entry.Entry, typ string) string {
	a, _ := e.Get(typ)
	if len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

package interceptor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
)

// recordingStage appends its name to a shared log every time Lookup is
// invoked, then forwards. Used to assert chain ordering and bypass
// behavior without a real partition underneath.
type recordingStage struct {
	Passthrough
	name string
	log  *[]string
}

func (s recordingStage) Lookup(ctx context.Context, op *opctx.LookupContext, next LookupFunc) (*entry.Entry, error) {
	*s.log = append(*s.log, s.name)
	return next(ctx, op)
}

func buildChain(t *testing.T, log *[]string, names ...string) *Chain {
	c := New()
	for _, n := range names {
		require.NoError(t, c.Append(n, recordingStage{name: n, log: log}))
	}
	c.Freeze()
	return c
}

func terminalLookup(result *entry.Entry) LookupFunc {
	return func(ctx context.Context, op *opctx.LookupContext) (*entry.Entry, error) {
		return result, nil
	}
}

func TestChain_NoBypassInvokesEveryStageInOrder(t *testing.T) {
	var log []string
	c := buildChain(t, &log, "0", "1", "2", "3", "4")

	op := &opctx.LookupContext{Header: opctx.Header{Context: context.Background(), Target: mustDN("ou=system")}}
	_, err := c.Lookup(context.Background(), op, terminalLookup(entry.New("ou=system")))
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, log)
}

func TestChain_FrontAndBackBypassSkipOnlyThoseStages(t *testing.T) {
	var log []string
	c := buildChain(t, &log, "0", "1", "2", "3", "4")

	op := &opctx.LookupContext{Header: opctx.Header{
		Context: context.Background(),
		Target:  mustDN("ou=system"),
		Bypass:  map[string]struct{}{"0": {}, "4": {}},
	}}
	_, err := c.Lookup(context.Background(), op, terminalLookup(entry.New("ou=system")))
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, log)
}

func TestChain_BypassAllSkipsEveryStage(t *testing.T) {
	var log []string
	c := buildChain(t, &log, "0", "1", "2")

	op := &opctx.LookupContext{Header: opctx.Header{
		Context: context.Background(),
		Target:  mustDN("ou=system"),
		Bypass:  map[string]struct{}{opctx.BypassAll: {}},
	}}
	_, err := c.Lookup(context.Background(), op, terminalLookup(entry.New("ou=system")))
	require.NoError(t, err)

	assert.Empty(t, log)
}

func TestChain_AppendAfterFreezeFails(t *testing.T) {
	c := New()
	require.NoError(t, c.Append("0", Passthrough{}))
	c.Freeze()

	err := c.Append("1", Passthrough{})
	require.Error(t, err)
}

func TestChain_InsertBeforePreservesOrder(t *testing.T) {
	c := New()
	require.NoError(t, c.Append("nexus-adjacent", Passthrough{}))
	require.NoError(t, c.InsertBefore("referral", "nexus-adjacent", Passthrough{}))
	require.NoError(t, c.InsertBefore("schema", "referral", Passthrough{}))

	assert.Equal(t, []string{"schema", "referral", "nexus-adjacent"}, c.Names())
}

func TestChain_DuplicateNameRejected(t *testing.T) {
	c := New()
	require.NoError(t, c.Append("referral", Passthrough{}))
	err := c.Append("referral", Passthrough{})
	require.Error(t, err)
}

// shortCircuitStage never forwards; it is used to verify a stage that
// terminates the call early is responsible for the whole result.
type shortCircuitStage struct {
	Passthrough
	result *entry.Entry
}

func (s shortCircuitStage) Lookup(ctx context.Context, op *opctx.LookupContext, next LookupFunc) (*entry.Entry, error) {
	return s.result, nil
}

func TestChain_StageCanShortCircuitWithoutForwarding(t *testing.T) {
	var log []string
	c := New()
	require.NoError(t, c.Append("0", recordingStage{name: "0", log: &log}))
	require.NoError(t, c.Append("1", shortCircuitStage{result: entry.New("cn=short")}))
	require.NoError(t, c.Append("2", recordingStage{name: "2", log: &log}))
	c.Freeze()

	op := &opctx.LookupContext{Header: opctx.Header{Context: context.Background(), Target: mustDN("cn=short")}}
	got, err := c.Lookup(context.Background(), op, terminalLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, "cn=short", got.DN)
	assert.Equal(t, []string{"0"}, log)
}

func mustDN(s string) dn.DN {
	d, err := dn.ParseRaw(s)
	if err != nil {
		panic(err)
	}
	return d
}

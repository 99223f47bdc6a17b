package opctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBypassed_EmptySetAllowsEverything(t *testing.T) {
	h := Header{Context: context.Background()}
	assert.False(t, h.Bypassed("referral"))
}

func TestBypassed_NamedEntry(t *testing.T) {
	h := Header{Context: context.Background(), Bypass: map[string]struct{}{"referral": {}}}
	assert.True(t, h.Bypassed("referral"))
	assert.False(t, h.Bypassed("schema"))
}

func TestBypassed_AllSentinelSkipsEverything(t *testing.T) {
	h := Header{Context: context.Background(), Bypass: map[string]struct{}{BypassAll: {}}}
	assert.True(t, h.Bypassed("referral"))
	assert.True(t, h.Bypassed("schema"))
}

func TestWithBypass_DoesNotMutateOriginal(t *testing.T) {
	h := Header{Context: context.Background(), Bypass: map[string]struct{}{"referral": {}}}
	h2 := h.WithBypass("schema")

	assert.False(t, h.Bypassed("schema"))
	assert.True(t, h2.Bypassed("schema"))
	assert.True(t, h2.Bypassed("referral"))
}

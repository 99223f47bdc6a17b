package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithWriter(&buf, level, format, false)
	t.Cleanup(func() { InitWithWriter(&buf, "INFO", "text", false) })
	return &buf
}

func TestInfo_TextFormatCarriesFields(t *testing.T) {
	buf := capture(t, "INFO", "text")
	Info("entry added", KeyTargetDN, "cn=alice,ou=system", KeyOperation, "add")

	out := buf.String()
	assert.Contains(t, out, "entry added")
	assert.Contains(t, out, "dn=cn=alice,ou=system")
	assert.Contains(t, out, "operation=add")
}

func TestDebug_SuppressedBelowLevel(t *testing.T) {
	buf := capture(t, "INFO", "text")
	Debug("should not appear")
	assert.Empty(t, buf.String())

	SetLevel("DEBUG")
	Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, "INFO", "json")
	Info("search finished", KeyResult, "success")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"), "json output expected, got %q", out)
	assert.Contains(t, out, `"result":"success"`)
}

func TestCtxLogging_InjectsOperationContext(t *testing.T) {
	buf := capture(t, "INFO", "text")

	lc := NewLogContext("delete", "ou=roles,o=mnn,c=ww,ou=system").WithSession("s-1", "uid=admin,ou=system")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "referral raised", KeyReferralKind, "ancestor")
	out := buf.String()
	assert.Contains(t, out, "operation=delete")
	assert.Contains(t, out, "session_id=s-1")
	assert.Contains(t, out, "bind_dn=uid=admin,ou=system")
	assert.Contains(t, out, "referral_kind=ancestor")
}

func TestFromContext_MissingReturnsNil(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
	require.Nil(t, FromContext(nil)) //nolint:staticcheck // nil context tolerated on purpose
}

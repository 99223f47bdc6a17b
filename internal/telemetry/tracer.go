package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for directory operations, following OpenTelemetry semantic
// convention style (dotted, lowercase) rather than any particular
// upstream convention since LDAP has none of its own.
const (
	// ========================================================================
	// Session attributes
	// ========================================================================
	AttrSessionID  = "session.id"
	AttrBindDN     = "session.bind_dn"
	AttrAuthMethod = "session.auth_method"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Operation attributes
	// ========================================================================
	AttrOperation   = "op.kind" // bind, add, delete, modify, modifyDN, search, compare
	AttrTargetDN    = "op.target_dn"
	AttrMessageID   = "op.message_id"
	AttrManageDsaIT = "op.manage_dsa_it"

	// ========================================================================
	// Interceptor chain attributes
	// ========================================================================
	AttrStageName   = "chain.stage"
	AttrStageBypass = "chain.bypassed"

	// ========================================================================
	// Referral attributes
	// ========================================================================
	AttrReferralURL  = "referral.url"
	AttrReferralKind = "referral.kind" // ancestor, exact

	// ========================================================================
	// Partition attributes
	// ========================================================================
	AttrPartitionSuffix = "partition.suffix"
	AttrPartitionKind   = "partition.backend" // memory, badger, postgres

	// ========================================================================
	// Search attributes
	// ========================================================================
	AttrSearchScope     = "search.scope"
	AttrSearchFilter    = "search.filter"
	AttrSearchSizeLimit = "search.size_limit"
	AttrResultCount     = "search.result_count"

	// ========================================================================
	// Change-log attributes
	// ========================================================================
	AttrRevision    = "changelog.revision"
	AttrRevertToRev = "changelog.revert_to"
)

// SessionID returns an attribute for the session correlation ID.
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// BindDN returns an attribute for the bound identity's DN.
func BindDN(dn string) attribute.KeyValue {
	return attribute.String(AttrBindDN, dn)
}

// AuthMethod returns an attribute for how the session authenticated.
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuthMethod, method)
}

// ClientAddr returns an attribute for the connecting client's address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Operation returns an attribute for the operation kind.
func Operation(kind string) attribute.KeyValue {
	return attribute.String(AttrOperation, kind)
}

// TargetDN returns an attribute for the operation's target or search base DN.
func TargetDN(dn string) attribute.KeyValue {
	return attribute.String(AttrTargetDN, dn)
}

// MessageID returns an attribute for the wire-adapter-supplied message ID.
func MessageID(id int) attribute.KeyValue {
	return attribute.Int(AttrMessageID, id)
}

// StageName returns an attribute for the interceptor stage name.
func StageName(name string) attribute.KeyValue {
	return attribute.String(AttrStageName, name)
}

// StageBypassed returns an attribute recording whether a stage was skipped.
func StageBypassed(bypassed bool) attribute.KeyValue {
	return attribute.Bool(AttrStageBypass, bypassed)
}

// ReferralURL returns an attribute for a referral's target URL.
func ReferralURL(url string) attribute.KeyValue {
	return attribute.String(AttrReferralURL, url)
}

// ReferralKind returns an attribute for how a referral was matched:
// "ancestor" or "exact".
func ReferralKind(kind string) attribute.KeyValue {
	return attribute.String(AttrReferralKind, kind)
}

// PartitionSuffix returns an attribute for the naming context a partition
// serves.
func PartitionSuffix(suffix string) attribute.KeyValue {
	return attribute.String(AttrPartitionSuffix, suffix)
}

// PartitionBackend returns an attribute for a partition's storage backend.
func PartitionBackend(kind string) attribute.KeyValue {
	return attribute.String(AttrPartitionKind, kind)
}

// SearchScope returns an attribute for a search operation's scope.
func SearchScope(scope string) attribute.KeyValue {
	return attribute.String(AttrSearchScope, scope)
}

// SearchFilter returns an attribute for a search operation's filter text.
func SearchFilter(filter string) attribute.KeyValue {
	return attribute.String(AttrSearchFilter, filter)
}

// ResultCount returns an attribute for the number of entries a search
// produced.
func ResultCount(n int) attribute.KeyValue {
	return attribute.Int(AttrResultCount, n)
}

// Revision returns an attribute for a change-log revision number.
func Revision(rev uint64) attribute.KeyValue {
	return attribute.Int64(AttrRevision, int64(rev))
}

// RevertToRevision returns an attribute for the target revision of a revert.
func RevertToRevision(rev uint64) attribute.KeyValue {
	return attribute.Int64(AttrRevertToRev, int64(rev))
}

// StartOperationSpan starts the root span for one interceptor-chain
// invocation, named by operation kind.
func StartOperationSpan(ctx context.Context, kind, targetDN string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Operation(kind),
		TargetDN(targetDN),
	}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "op."+kind, trace.WithAttributes(allAttrs...))
}

// StartStageSpan starts a span for one interceptor stage's execution within
// an operation's chain.
func StartStageSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		StageName(stage),
	}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "chain."+stage, trace.WithAttributes(allAttrs...))
}

// StartReferralSpan starts a span for a referral lookup or rewrite.
func StartReferralSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "referral."+operation, trace.WithAttributes(attrs...))
}

// StartPartitionSpan starts a span for a partition-level storage operation.
func StartPartitionSpan(ctx context.Context, operation, suffix string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		PartitionSuffix(suffix),
	}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "partition."+operation, trace.WithAttributes(allAttrs...))
}

// StartChangelogSpan starts a span for an append or revert against the
// change log.
func StartChangelogSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "changelog."+operation, trace.WithAttributes(attrs...))
}

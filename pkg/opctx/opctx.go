// Package opctx defines the typed per-operation contexts the interceptor
// chain and partition nexus pass between stages: one struct per operation
// kind, all sharing a common header of session, target DN, control flags,
// and bypass set.
package opctx

import (
	"context"

	"dirsrv/pkg/changelog"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
)

// Kind identifies which operation a context carries.
type Kind int

const (
	Bind Kind = iota + 1
	Lookup
	Add
	Delete
	Modify
	ModifyDN // covers rename, move, and moveAndRename, distinguished by which fields are set
	Search
	Compare
)

// BypassAll is the sentinel bypass-set entry that skips every interceptor,
// used when the change-log replays a reverse-op. LDIF ingest instead names
// every stage except normalization in its bypass set.
const BypassAll = "*"

// Session carries the bind identity and connection-scoped state shared by
// every operation issued on one connection.
type Session struct {
	// ID uniquely identifies the session for change-log correlation and
	// logging.
	ID string

	// DN is the bound identity's distinguished name; empty for an
	// anonymous bind.
	DN string

	// AuthMethod records how the identity was established: "anonymous",
	// "simple", or a SASL mechanism name such as "GSSAPI".
	AuthMethod string

	// Environment carries protocol-adapter-supplied key/value state
	// (client address, TLS info, ...) that interceptors may read but
	// should not use for authorization decisions beyond what AuthMethod
	// and DN already establish.
	Environment map[string]string
}

// Header is embedded in every operation context.
type Header struct {
	Context context.Context

	Kind Kind

	// Session identifies the caller.
	Session Session

	// Target is the normalized DN the operation addresses. For Search it
	// is the search base.
	Target dn.DN

	// ManageDsaIT, when true, makes the referral interceptor treat
	// referral entries as ordinary entries instead of raising a referral
	// result.
	ManageDsaIT bool

	// Bypass is the set of interceptor names to skip for this call, or
	// contains BypassAll to skip the entire chain except the nexus.
	Bypass map[string]struct{}

	// MessageID is opaque state a wire adapter threads through to
	// correlate the eventual response; the core never inspects it.
	MessageID int
}

// Bypassed reports whether the named interceptor should be skipped for
// this operation.
func (h Header) Bypassed(name string) bool {
	if _, all := h.Bypass[BypassAll]; all {
		return true
	}
	_, skip := h.Bypass[name]
	return skip
}

// WithBypass returns a copy of h with name added to the bypass set, used
// by a stage that issues a reentrant sub-operation excluding itself.
func (h Header) WithBypass(name string) Header {
	next := make(map[string]struct{}, len(h.Bypass)+1)
	for k := range h.Bypass {
		next[k] = struct{}{}
	}
	next[name] = struct{}{}
	h.Bypass = next
	return h
}

// BindContext carries the payload for a bind operation; Target is the DN
// the caller is attempting to authenticate as, and Credentials holds the
// simple-bind password or SASL mechanism-specific bytes.
type BindContext struct {
	Header
	Credentials []byte
	Mechanism   string // "simple", or a SASL mechanism name such as "GSSAPI"
}

// LookupContext carries the payload for a single-entry lookup by DN,
// distinct from Search so the nexus and referral interceptor can apply
// exact-match semantics without a scope or filter.
type LookupContext struct {
	Header
	Attributes []string
}

// AddContext carries the payload for an add operation.
type AddContext struct {
	Header
	Entry *entry.Entry
}

// DeleteContext carries the payload for a delete operation.
type DeleteContext struct {
	Header
}

// Modification is one change within a modify operation's list.
type Modification struct {
	Op     changelog.ModOp
	Type   string
	Values []string
}

// Modification operators, re-exported so callers building modification
// lists need not import changelog directly.
const (
	ModAdd     = changelog.ModAdd
	ModDelete  = changelog.ModDelete
	ModReplace = changelog.ModReplace
)

// ModifyContext carries the payload for a modify operation.
type ModifyContext struct {
	Header
	Mods []Modification
}

// ModifyDNContext carries the payload shared by rename, move, and
// moveAndRename: NewRDN set alone is a rename, NewSuperior set alone is a
// move, both set is moveAndRename.
type ModifyDNContext struct {
	Header
	NewRDN       string
	DeleteOldRDN bool
	NewSuperior  *dn.DN // nil unless the new parent changes
}

// Scope is a search's subtree scope, mirroring RFC 4511's scope values.
type Scope int

const (
	ScopeBaseObject Scope = iota
	ScopeSingleLevel
	ScopeSubtree
)

// SearchContext carries the payload for a search operation.
type SearchContext struct {
	Header
	Scope      Scope
	Filter     string // the interceptors pass the filter through as text; partitions parse it and evaluate it against the schema
	Attributes []string
	TypesOnly  bool
	SizeLimit  int
	TimeLimit  int
}

// CompareContext carries the payload for a compare operation.
type CompareContext struct {
	Header
	AttributeType string
	Value         string
}

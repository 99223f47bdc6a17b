// Package referral implements RFC 3296 referral handling: detection of
// referral entries, the ancestor-referral set, URL validation and rewriting,
// and the interceptor stage that enforces referral semantics for every
// operation.
package referral

import (
	"context"
	"log/slog"
	"sync"

	"dirsrv/internal/telemetry"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/metrics"
	"dirsrv/pkg/opctx"
)

// ObjectClass is the object class value that marks an entry as a referral.
const ObjectClass = "referral"

// RefAttribute is the attribute carrying a referral entry's LDAP URLs.
const RefAttribute = "ref"

// EntryLookup reads one entry by normalized DN, bypassing the interceptor
// chain. The manager uses it to re-read an entry after a modify commits and
// reconcile the referral set; the nexus supplies the concrete function at
// wiring time so the manager never holds a back-reference to the directory
// service.
type EntryLookup func(ctx context.Context, target dn.DN) (*entry.Entry, error)

// Searcher issues a subtree search against one partition, used for initial
// population when a partition is registered.
type Searcher func(ctx context.Context, base dn.DN, filter string) ([]*entry.Entry, error)

// Manager owns the referral set: a trie over normalized DNs guarded by a
// single-writer many-reader lock. Readers see a consistent snapshot; a
// modify that flips an entry's referral-ness removes and reinserts under
// one write-lock section so no reader observes the intermediate state.
type Manager struct {
	mu     sync.RWMutex
	set    *set
	lookup EntryLookup
	log    *slog.Logger
	m      *metrics.DirectoryMetrics
}

// NewManager creates an empty referral manager. lookup may be nil until
// SetLookup is called during service wiring.
func NewManager(lookup EntryLookup, log *slog.Logger, m *metrics.DirectoryMetrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{set: newSet(), lookup: lookup, log: log, m: m}
}

// SetLookup installs the nexus-backed entry reader. Called once during
// startup wiring, before the server accepts operations.
func (r *Manager) SetLookup(lookup EntryLookup) { r.lookup = lookup }

// IsReferral reports whether e carries the referral object class.
func IsReferral(e *entry.Entry) bool {
	return e != nil && e.HasObjectClass(ObjectClass)
}

// URLsOf validates e's ref values. Unparseable or invalid values are logged
// and skipped; an entry with the referral object class but zero valid refs
// is invalid and yields UnwillingToPerform.
func (r *Manager) URLsOf(e *entry.Entry) ([]URL, error) {
	attr, ok := e.Get(RefAttribute)
	if !ok || len(attr.Values) == 0 {
		return nil, dirserrors.Newf(dirserrors.UnwillingToPerform, "referral entry %q has no ref values", e.DN)
	}
	urls := make([]URL, 0, len(attr.Values))
	for _, v := range attr.Values {
		u, err := ParseURL(v)
		if err != nil {
			r.log.Warn("skipping invalid referral URL", "dn", e.DN, "ref", v, "error", err)
			continue
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, dirserrors.Newf(dirserrors.UnwillingToPerform, "referral entry %q has no valid ref values", e.DN)
	}
	return urls, nil
}

// Lookup answers "is target at or below a known referral". Readers do not
// block each other; only mutations take the write lock.
func (r *Manager) Lookup(target dn.DN) Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	match := r.set.lookup(target)
	switch match.Kind {
	case MatchExact:
		r.m.RecordReferralHit("exact")
	case MatchAncestor:
		r.m.RecordReferralHit("ancestor")
	}
	return match
}

// Install records target as a referral. Callers invoke it only after the
// underlying partition mutation has committed.
func (r *Manager) Install(target dn.DN, urls []URL) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set.insert(target, urls)
}

// Remove forgets target's referral marker after the underlying delete (or
// rename away) has committed.
func (r *Manager) Remove(target dn.DN) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set.remove(target)
}

// Reconcile re-reads target after a committed mutation that may have
// changed its referral-ness and updates the set to match. The remove and
// reinsert happen under one write-lock section, so concurrent readers see
// either the old or the new state, never a partial one.
func (r *Manager) Reconcile(ctx context.Context, target dn.DN) error {
	ctx, span := telemetry.StartReferralSpan(ctx, "reconcile", telemetry.TargetDN(target.String()))
	defer span.End()

	var e *entry.Entry
	if r.lookup != nil {
		var err error
		e, err = r.lookup(ctx, target)
		if err != nil && dirserrors.CodeOf(err) != dirserrors.NoSuchObject {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.set.remove(target)
	if !IsReferral(e) {
		return nil
	}
	urls, err := r.URLsOf(e)
	if err != nil {
		// The mutation has already committed; a referral entry left with no
		// valid URL is a late invariant violation the caller surfaces.
		return err
	}
	r.set.insert(target, urls)
	return nil
}

// Populate installs every referral found under base via search, called when
// a partition is registered. Entries whose ref values are all invalid are
// logged and skipped rather than failing registration.
func (r *Manager) Populate(ctx context.Context, base dn.DN, search Searcher) error {
	ctx, span := telemetry.StartReferralSpan(ctx, "populate", telemetry.TargetDN(base.String()))
	defer span.End()

	hits, err := search(ctx, base, "(objectClass="+ObjectClass+")")
	if err != nil {
		return err
	}
	for _, e := range hits {
		urls, err := r.URLsOf(e)
		if err != nil {
			r.log.Warn("skipping referral entry during population", "dn", e.DN, "error", err)
			continue
		}
		target, err := dn.ParseNormalized(e.DN)
		if err != nil {
			r.log.Warn("skipping referral entry with unparseable DN", "dn", e.DN, "error", err)
			continue
		}
		r.Install(target, urls)
	}
	r.log.Info("referral set populated", "suffix", base.String(), "referrals", len(hits))
	return nil
}

// Snapshot returns the DNs currently in the referral set, for diagnostics
// and tests. Order is unspecified.
func (r *Manager) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	var walk func(n *setNode)
	walk = func(n *setNode) {
		if n.referral != nil {
			out = append(out, n.referral.DN.Normalized())
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(r.set.root)
	return out
}

// ContinuationURLs returns the search-continuation reference URLs for a
// referral entry encountered while walking a subtree, or nil if e is not a
// referral or ManageDsaIT is in force. Per RFC 3296, continuation
// references carry the referral's own URLs; clients re-scope the search
// themselves.
func (r *Manager) ContinuationURLs(e *entry.Entry, op *opctx.SearchContext) []string {
	if op.ManageDsaIT || !IsReferral(e) {
		return nil
	}
	urls, err := r.URLsOf(e)
	if err != nil {
		r.log.Warn("referral entry without valid URLs in search result", "dn", e.DN, "error", err)
		return nil
	}
	return Strings(urls)
}

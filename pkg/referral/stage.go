package referral

import (
	"context"
	"strings"

	"dirsrv/internal/telemetry"
	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/interceptor"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/schema"
)

// StageName is the referral stage's registered name in the chain.
const StageName = "referral"

// Stage is the referral interceptor: before forwarding any operation it
// asks the manager whether the target sits at or below a known referral,
// and after a successful mutation it updates the referral set. The set is
// always updated after the partition commit, never before.
type Stage struct {
	interceptor.Passthrough
	manager *Manager
	schema  *schema.Schema
}

// NewStage wires the referral interceptor to its manager and the schema
// (needed to normalize a rename's new RDN when maintaining the set).
func NewStage(m *Manager, s *schema.Schema) *Stage {
	return &Stage{manager: m, schema: s}
}

// check applies the ancestry decision table shared by every operation kind:
// no match forwards, an exact match forwards only under ManageDsaIT (the
// referral entry is then ordinary data), and an ancestor match fails with a
// referral result carrying the ancestor's URLs rewritten into the target's
// namespace. Under ManageDsaIT an ancestor match also forwards: the
// referral entry is ordinary data, so the target simply does not exist
// below it and the partition reports that.
func (s *Stage) check(ctx context.Context, h opctx.Header) error {
	match := s.manager.Lookup(h.Target)
	switch match.Kind {
	case MatchNone:
		return nil
	case MatchExact:
		if h.ManageDsaIT {
			return nil
		}
		return dirserrors.ReferralErr(h.Target.String(), match.DN.String(), Strings(match.URLs))
	default: // MatchAncestor
		if h.ManageDsaIT {
			return nil
		}
		_, span := telemetry.StartReferralSpan(ctx, "rewrite",
			telemetry.TargetDN(h.Target.String()), telemetry.ReferralKind("ancestor"))
		defer span.End()
		return dirserrors.ReferralErr(h.Target.String(), match.DN.String(), RewriteAll(match.URLs, h.Target, match.DN))
	}
}

func (s *Stage) Lookup(ctx context.Context, op *opctx.LookupContext, next interceptor.LookupFunc) (*entry.Entry, error) {
	if err := s.check(ctx, op.Header); err != nil {
		return nil, err
	}
	return next(ctx, op)
}

func (s *Stage) Compare(ctx context.Context, op *opctx.CompareContext, next interceptor.CompareFunc) (bool, error) {
	if err := s.check(ctx, op.Header); err != nil {
		return false, err
	}
	return next(ctx, op)
}

// Add validates a new referral entry's ref values before forwarding (a
// referral entry with zero valid URLs never reaches the partition), then
// installs it in the set once the add commits.
func (s *Stage) Add(ctx context.Context, op *opctx.AddContext, next interceptor.AddFunc) error {
	if err := s.check(ctx, op.Header); err != nil {
		return err
	}
	var urls []URL
	if IsReferral(op.Entry) {
		var err error
		urls, err = s.manager.URLsOf(op.Entry)
		if err != nil {
			return err
		}
	}
	if err := next(ctx, op); err != nil {
		return err
	}
	if urls != nil {
		s.manager.Install(op.Target, urls)
	}
	return nil
}

// Delete removes the target from the referral set after the partition
// delete commits, when the target was itself a referral (which requires
// ManageDsaIT to get past check).
func (s *Stage) Delete(ctx context.Context, op *opctx.DeleteContext, next interceptor.DeleteFunc) error {
	match := s.manager.Lookup(op.Target)
	if err := s.check(ctx, op.Header); err != nil {
		return err
	}
	if err := next(ctx, op); err != nil {
		return err
	}
	if match.Kind == MatchExact {
		s.manager.Remove(op.Target)
	}
	return nil
}

// Modify reconciles the target's referral-ness after the modification
// commits, but only when the target was already a referral or the
// modification touches objectClass or ref.
func (s *Stage) Modify(ctx context.Context, op *opctx.ModifyContext, next interceptor.ModifyFunc) error {
	match := s.manager.Lookup(op.Target)
	if err := s.check(ctx, op.Header); err != nil {
		return err
	}
	if err := next(ctx, op); err != nil {
		return err
	}
	if match.Kind == MatchExact || touchesReferralAttrs(op.Mods) {
		return s.manager.Reconcile(ctx, op.Target)
	}
	return nil
}

// ModifyDN checks both the source DN and, for a move, the destination
// parent; after the commit it removes the old DN from the set and
// reconciles the new one.
func (s *Stage) ModifyDN(ctx context.Context, op *opctx.ModifyDNContext, next interceptor.ModifyDNFunc) error {
	match := s.manager.Lookup(op.Target)
	if err := s.check(ctx, op.Header); err != nil {
		return err
	}
	if op.NewSuperior != nil {
		destHeader := op.Header
		destHeader.Target = *op.NewSuperior
		if err := s.check(ctx, destHeader); err != nil {
			return err
		}
	}
	newDN, err := s.renamedDN(op)
	if err != nil {
		return err
	}
	if err := next(ctx, op); err != nil {
		return err
	}
	if match.Kind == MatchExact {
		s.manager.Remove(op.Target)
		return s.manager.Reconcile(ctx, newDN)
	}
	return nil
}

// Search applies the ancestry check to the base, then forwards. Descendant
// referrals inside the result set surface as continuation references in
// the response adapter, not here: the cursor stays a plain entry sequence
// until the protocol boundary.
func (s *Stage) Search(ctx context.Context, op *opctx.SearchContext, next interceptor.SearchFunc) (cursor.Cursor, error) {
	if err := s.check(ctx, op.Header); err != nil {
		return nil, err
	}
	return next(ctx, op)
}

// renamedDN computes the DN the target will carry after a rename and/or
// move, normalized through the schema.
func (s *Stage) renamedDN(op *opctx.ModifyDNContext) (dn.DN, error) {
	parent := op.Target
	if p, ok := op.Target.Parent(); ok {
		parent = p
	}
	if op.NewSuperior != nil {
		parent = *op.NewSuperior
	}
	leading := op.Target.Leading(1)
	if op.NewRDN != "" {
		parsed, err := dn.Parse(op.NewRDN, s.schema.CanonicalName, s.schema.NormalizeValue)
		if err != nil {
			return dn.DN{}, err
		}
		leading = parsed
	}
	return dn.Join(leading, parent), nil
}

func touchesReferralAttrs(mods []opctx.Modification) bool {
	for _, m := range mods {
		if strings.EqualFold(m.Type, "objectClass") || strings.EqualFold(m.Type, RefAttribute) {
			return true
		}
	}
	return false
}

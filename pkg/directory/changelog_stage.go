package directory

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"dirsrv/internal/telemetry"
	"dirsrv/pkg/changelog"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/interceptor"
	"dirsrv/pkg/metrics"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/schema"
)

// StageChangelog is the change-log stage's registered name.
const StageChangelog = "changelog"

// changelogStage records a reverse operation for every mutation that
// commits while logging is enabled. The reverse op is captured from the
// pre-image read just before forwarding, and appended only after the
// forward op succeeds, so the log never holds a reverse for a mutation
// that did not happen.
type changelogStage struct {
	interceptor.Passthrough
	log     *changelog.Log
	schema  *schema.Schema
	lookup  func(ctx context.Context, target dn.DN) (*entry.Entry, error)
	enabled *atomic.Bool
	m       *metrics.DirectoryMetrics
	now     func() time.Time
}

func (s *changelogStage) record(ctx context.Context, target string, kind changelog.Kind, sessionID string, reverse changelog.ReverseOp) {
	_, span := telemetry.StartChangelogSpan(ctx, "append", telemetry.TargetDN(target))
	defer span.End()
	rev := s.log.Append(target, kind, sessionID, reverse, s.now())
	s.m.SetChangelogRevision(rev)
}

func (s *changelogStage) Add(ctx context.Context, op *opctx.AddContext, next interceptor.AddFunc) error {
	if !s.enabled.Load() {
		return next(ctx, op)
	}
	if err := next(ctx, op); err != nil {
		return err
	}
	s.record(ctx, op.Target.Normalized(), changelog.Add, op.Session.ID, changelog.ReverseOp{
		Kind: changelog.Delete,
		DN:   op.Target.Normalized(),
	})
	return nil
}

func (s *changelogStage) Delete(ctx context.Context, op *opctx.DeleteContext, next interceptor.DeleteFunc) error {
	if !s.enabled.Load() {
		return next(ctx, op)
	}
	snapshot, err := s.lookup(ctx, op.Target)
	if err != nil && dirserrors.CodeOf(err) != dirserrors.NoSuchObject {
		return err
	}
	if err := next(ctx, op); err != nil {
		return err
	}
	var reverse changelog.ReverseOp
	if snapshot != nil {
		reverse = changelog.ReverseOp{Kind: changelog.Add, DN: snapshot.DN, Entry: snapshot}
	}
	s.record(ctx, op.Target.Normalized(), changelog.Delete, op.Session.ID, reverse)
	return nil
}

func (s *changelogStage) Modify(ctx context.Context, op *opctx.ModifyContext, next interceptor.ModifyFunc) error {
	if !s.enabled.Load() {
		return next(ctx, op)
	}
	snapshot, err := s.lookup(ctx, op.Target)
	if err != nil {
		if dirserrors.CodeOf(err) == dirserrors.NoSuchObject {
			return next(ctx, op)
		}
		return err
	}
	inverse := inverseMods(snapshot, op.Mods)
	if err := next(ctx, op); err != nil {
		return err
	}
	s.record(ctx, op.Target.Normalized(), changelog.Modify, op.Session.ID, changelog.ReverseOp{
		Kind: changelog.Modify,
		DN:   op.Target.Normalized(),
		Mods: inverse,
	})
	return nil
}

func (s *changelogStage) ModifyDN(ctx context.Context, op *opctx.ModifyDNContext, next interceptor.ModifyDNFunc) error {
	if !s.enabled.Load() {
		return next(ctx, op)
	}
	newDN, err := renamedDN(op, s.schema)
	if err != nil {
		return err
	}
	oldRDN := op.Target.RDN().String()
	oldParent := ""
	if p, ok := op.Target.Parent(); ok {
		oldParent = p.Normalized()
	}
	if err := next(ctx, op); err != nil {
		return err
	}

	kind := changelog.Rename
	if op.NewSuperior != nil {
		kind = changelog.Move
		if op.NewRDN != "" {
			kind = changelog.MoveAndRename
		}
	}
	s.record(ctx, op.Target.Normalized(), kind, op.Session.ID, changelog.ReverseOp{
		Kind:         kind,
		DN:           newDN.Normalized(),
		NewParent:    oldParent,
		NewRDN:       oldRDN,
		DeleteOldRDN: op.DeleteOldRDN,
	})
	return nil
}

// inverseMods computes the modification list that undoes mods against the
// pre-image, in reverse application order.
func inverseMods(pre *entry.Entry, mods []opctx.Modification) []changelog.Mod {
	// Later mods see the effect of earlier ones, so the inverse of each is
	// computed against a progressively updated view and the whole list is
	// reversed at the end.
	working := pre.Clone()
	var inverse []changelog.Mod
	for _, m := range mods {
		prior, had := working.Get(m.Type)
		switch m.Op {
		case opctx.ModAdd:
			inverse = append(inverse, changelog.Mod{Op: opctx.ModDelete, Type: m.Type, Values: m.Values})
			working.Add(m.Type, m.Values...)
		case opctx.ModDelete:
			if !had {
				continue
			}
			if len(m.Values) == 0 {
				inverse = append(inverse, changelog.Mod{Op: opctx.ModReplace, Type: m.Type, Values: prior.Values})
				working.Remove(m.Type)
				continue
			}
			restored := intersect(prior.Values, m.Values)
			if len(restored) > 0 {
				inverse = append(inverse, changelog.Mod{Op: opctx.ModAdd, Type: m.Type, Values: restored})
			}
			working.RemoveValues(m.Type, strings.EqualFold, m.Values...)
		case opctx.ModReplace:
			if had {
				inverse = append(inverse, changelog.Mod{Op: opctx.ModReplace, Type: m.Type, Values: prior.Values})
			} else {
				inverse = append(inverse, changelog.Mod{Op: opctx.ModDelete, Type: m.Type})
			}
			if len(m.Values) == 0 {
				working.Remove(m.Type)
			} else {
				working.Set(m.Type, m.Values...)
			}
		}
	}
	for i, j := 0, len(inverse)-1; i < j; i, j = i+1, j-1 {
		inverse[i], inverse[j] = inverse[j], inverse[i]
	}
	return inverse
}

func intersect(have, want []string) []string {
	var out []string
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

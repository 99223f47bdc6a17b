package directory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dirsrv/pkg/dn"
	"dirsrv/pkg/interceptor"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/schema"
)

// StageOperational is the operational-attribute stage's registered name.
const StageOperational = "operational"

// Operational attribute names (RFC 4512, RFC 4530).
const (
	attrEntryUUID       = "entryUUID"
	attrCreateTimestamp = "createTimestamp"
	attrModifyTimestamp = "modifyTimestamp"
	attrCreatorsName    = "creatorsName"
	attrModifiersName   = "modifiersName"
)

// generalizedTime is the GeneralizedTime layout operational timestamps use.
const generalizedTime = "20060102150405Z"

// operationalStage stamps server-maintained attributes on mutations and
// strips any client-supplied values for NO-USER-MODIFICATION attribute
// types before they reach the partition. The stamp for modifyDN goes
// through a direct nexus modify after the relocation commits, since the
// relocated entry is not carried in the context.
type operationalStage struct {
	interceptor.Passthrough
	schema *schema.Schema
	stamp  func(ctx context.Context, target dn.DN, mods []opctx.Modification) error
	now    func() time.Time
}

func (s *operationalStage) Add(ctx context.Context, op *opctx.AddContext, next interceptor.AddFunc) error {
	s.stripNoUserModification(op)
	ts := s.now().UTC().Format(generalizedTime)
	op.Entry.Set(attrEntryUUID, uuid.NewString())
	op.Entry.Set(attrCreateTimestamp, ts)
	op.Entry.Set(attrCreatorsName, op.Session.DN)
	return next(ctx, op)
}

func (s *operationalStage) Modify(ctx context.Context, op *opctx.ModifyContext, next interceptor.ModifyFunc) error {
	kept := op.Mods[:0:0]
	for _, m := range op.Mods {
		if at, ok := s.schema.AttributeType(m.Type); ok && at.NoUserModification {
			continue
		}
		kept = append(kept, m)
	}
	op.Mods = append(kept,
		opctx.Modification{Op: opctx.ModReplace, Type: attrModifyTimestamp, Values: []string{s.now().UTC().Format(generalizedTime)}},
		opctx.Modification{Op: opctx.ModReplace, Type: attrModifiersName, Values: []string{op.Session.DN}},
	)
	return next(ctx, op)
}

func (s *operationalStage) ModifyDN(ctx context.Context, op *opctx.ModifyDNContext, next interceptor.ModifyDNFunc) error {
	newDN, err := renamedDN(op, s.schema)
	if err != nil {
		return err
	}
	if err := next(ctx, op); err != nil {
		return err
	}
	return s.stamp(ctx, newDN, []opctx.Modification{
		{Op: opctx.ModReplace, Type: attrModifyTimestamp, Values: []string{s.now().UTC().Format(generalizedTime)}},
		{Op: opctx.ModReplace, Type: attrModifiersName, Values: []string{op.Session.DN}},
	})
}

// stripNoUserModification drops client-supplied values for attribute types
// the server alone maintains, mirroring how privileged file bits are
// cleared server-side rather than trusted from the caller.
func (s *operationalStage) stripNoUserModification(op *opctx.AddContext) {
	for _, a := range op.Entry.Attributes() {
		if at, ok := s.schema.AttributeType(a.Type); ok && at.NoUserModification {
			op.Entry.Remove(a.Type)
		}
	}
}

// renamedDN computes the DN an entry carries after a modifyDN commits.
func renamedDN(op *opctx.ModifyDNContext, s *schema.Schema) (dn.DN, error) {
	parent := op.Target
	if p, ok := op.Target.Parent(); ok {
		parent = p
	}
	if op.NewSuperior != nil {
		parent = *op.NewSuperior
	}
	leading := op.Target.Leading(1)
	if op.NewRDN != "" {
		parsed, err := dn.Parse(op.NewRDN, s.CanonicalName, s.NormalizeValue)
		if err != nil {
			return dn.DN{}, err
		}
		leading = parsed
	}
	return dn.Join(leading, parent), nil
}

package directory

import (
	"context"

	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/interceptor"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/schema"
)

// StageNormalization is the schema stage's registered name. Past this
// stage, every DN in a context is normalized.
const StageNormalization = "normalization"

// schemaStage normalizes every DN in the operation context against the
// schema and validates add/modify payloads: unknown attribute types and
// object classes are rejected before they can reach a partition.
type schemaStage struct {
	interceptor.Passthrough
	schema *schema.Schema
}

func (s *schemaStage) normalizeHeader(h *opctx.Header) error {
	if h.Target.Empty() {
		return nil
	}
	normalized, err := h.Target.Normalize(s.schema.CanonicalName, s.schema.NormalizeValue)
	if err != nil {
		return err
	}
	h.Target = normalized
	return nil
}

func (s *schemaStage) Bind(ctx context.Context, op *opctx.BindContext, next interceptor.BindFunc) (*opctx.Session, error) {
	if err := s.normalizeHeader(&op.Header); err != nil {
		return nil, err
	}
	return next(ctx, op)
}

func (s *schemaStage) Lookup(ctx context.Context, op *opctx.LookupContext, next interceptor.LookupFunc) (*entry.Entry, error) {
	if err := s.normalizeHeader(&op.Header); err != nil {
		return nil, err
	}
	// The subschema subentry is synthesized from the loaded definitions,
	// never stored in a partition.
	if op.Target.Normalized() == schema.SubschemaDN {
		return s.schema.SubschemaSubentry(), nil
	}
	return next(ctx, op)
}

func (s *schemaStage) Add(ctx context.Context, op *opctx.AddContext, next interceptor.AddFunc) error {
	if err := s.normalizeHeader(&op.Header); err != nil {
		return err
	}
	if op.Entry == nil {
		return dirserrors.New(dirserrors.UnwillingToPerform, "add without an entry payload")
	}
	op.Entry.DN = op.Target.Normalized()

	for _, a := range op.Entry.Attributes() {
		if _, ok := s.schema.AttributeType(a.Type); !ok {
			return dirserrors.Newf(dirserrors.InvalidAttributeSyntax, "unknown attribute type %q", a.Type)
		}
	}
	if err := s.schema.ValidateEntryClasses(op.Entry.ObjectClasses()); err != nil {
		return err
	}

	// The naming attribute values must appear on the entry itself; supply
	// any the client omitted.
	for _, c := range op.Target.RDN().Components {
		eq := func(a, b string) bool { return s.schema.Equal(c.NormType, a, b) }
		if a, ok := op.Entry.Get(c.NormType); !ok || !a.Contains(c.Value, eq) {
			op.Entry.Add(c.NormType, c.Value)
		}
	}
	return next(ctx, op)
}

func (s *schemaStage) Delete(ctx context.Context, op *opctx.DeleteContext, next interceptor.DeleteFunc) error {
	if err := s.normalizeHeader(&op.Header); err != nil {
		return err
	}
	return next(ctx, op)
}

func (s *schemaStage) Modify(ctx context.Context, op *opctx.ModifyContext, next interceptor.ModifyFunc) error {
	if err := s.normalizeHeader(&op.Header); err != nil {
		return err
	}
	for _, m := range op.Mods {
		if _, ok := s.schema.AttributeType(m.Type); !ok {
			return dirserrors.Newf(dirserrors.InvalidAttributeSyntax, "unknown attribute type %q", m.Type)
		}
	}
	return next(ctx, op)
}

func (s *schemaStage) ModifyDN(ctx context.Context, op *opctx.ModifyDNContext, next interceptor.ModifyDNFunc) error {
	if err := s.normalizeHeader(&op.Header); err != nil {
		return err
	}
	if op.NewRDN != "" {
		parsed, err := dn.Parse(op.NewRDN, s.schema.CanonicalName, s.schema.NormalizeValue)
		if err != nil {
			return err
		}
		if parsed.Len() != 1 {
			return dirserrors.Newf(dirserrors.NamingViolation, "new RDN %q must be a single RDN", op.NewRDN)
		}
	}
	if op.NewSuperior != nil {
		normalized, err := op.NewSuperior.Normalize(s.schema.CanonicalName, s.schema.NormalizeValue)
		if err != nil {
			return err
		}
		*op.NewSuperior = normalized
	}
	return next(ctx, op)
}

func (s *schemaStage) Search(ctx context.Context, op *opctx.SearchContext, next interceptor.SearchFunc) (cursor.Cursor, error) {
	if err := s.normalizeHeader(&op.Header); err != nil {
		return nil, err
	}
	if op.Target.Normalized() == schema.SubschemaDN {
		return cursor.FromSlice([]*entry.Entry{s.schema.SubschemaSubentry()}), nil
	}
	return next(ctx, op)
}

func (s *schemaStage) Compare(ctx context.Context, op *opctx.CompareContext, next interceptor.CompareFunc) (bool, error) {
	if err := s.normalizeHeader(&op.Header); err != nil {
		return false, err
	}
	if _, ok := s.schema.AttributeType(op.AttributeType); !ok {
		return false, dirserrors.Newf(dirserrors.InvalidAttributeSyntax, "unknown attribute type %q", op.AttributeType)
	}
	return next(ctx, op)
}

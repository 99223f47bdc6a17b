package blobstore

import (
	"context"
	"strings"

	"dirsrv/pkg/interceptor"
	"dirsrv/pkg/opctx"
)

// StageName is the blob-offload stage's registered name in the chain.
const StageName = "blob"

// binaryAttrs are the attribute types whose values are candidates for
// offload. Matching is by type name; syntax-driven selection would need
// the schema to flag binary syntaxes, which these two cover in practice.
var binaryAttrs = map[string]bool{
	"jpegphoto":       true,
	"usercertificate": true,
}

// Stage offloads oversized values of binary attributes to the blob store
// before they reach a partition, replacing each with a content reference.
// Reads pass through untouched; resolving references back to bytes is the
// wire adapter's choice, via Store.Get.
type Stage struct {
	interceptor.Passthrough
	store     *Store
	threshold int
}

// NewStage wires the offload stage. Values at or below threshold bytes
// stay inline.
func NewStage(store *Store, threshold int) *Stage {
	return &Stage{store: store, threshold: threshold}
}

func (s *Stage) offloadValue(ctx context.Context, attrType, value string) (string, error) {
	if !binaryAttrs[strings.ToLower(attrType)] || len(value) <= s.threshold || IsRef(value) {
		return value, nil
	}
	return s.store.Put(ctx, []byte(value))
}

func (s *Stage) Add(ctx context.Context, op *opctx.AddContext, next interceptor.AddFunc) error {
	for _, a := range op.Entry.Attributes() {
		if !binaryAttrs[strings.ToLower(a.Type)] {
			continue
		}
		replaced := make([]string, len(a.Values))
		changed := false
		for i, v := range a.Values {
			out, err := s.offloadValue(ctx, a.Type, v)
			if err != nil {
				return err
			}
			replaced[i] = out
			changed = changed || out != v
		}
		if changed {
			op.Entry.Set(a.Type, replaced...)
		}
	}
	return next(ctx, op)
}

func (s *Stage) Modify(ctx context.Context, op *opctx.ModifyContext, next interceptor.ModifyFunc) error {
	for i, m := range op.Mods {
		if !binaryAttrs[strings.ToLower(m.Type)] {
			continue
		}
		for j, v := range m.Values {
			out, err := s.offloadValue(ctx, m.Type, v)
			if err != nil {
				return err
			}
			op.Mods[i].Values[j] = out
		}
	}
	return next(ctx, op)
}

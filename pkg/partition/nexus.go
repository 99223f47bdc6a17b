package partition

import (
	"context"
	"strings"
	"sync"

	"dirsrv/internal/telemetry"
	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
)

// Nexus is the terminal stage of the interceptor chain: it holds the
// registry of partitions keyed by suffix and routes each operation to the
// partition whose suffix is the longest ancestor of, or equal to, the
// target DN.
type Nexus struct {
	mu         sync.RWMutex
	partitions map[string]Partition // keyed by normalized suffix
	suffixes   []dn.DN              // mirrors partitions' keys, for scanning
}

// NewNexus returns an empty nexus. Partitions are added with Register
// before the server starts serving requests.
func NewNexus() *Nexus {
	return &Nexus{partitions: make(map[string]Partition)}
}

// Register adds a partition to the registry. It fails if a partition is
// already registered for the same suffix.
func (n *Nexus) Register(p Partition) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := p.Suffix().Normalized()
	if _, exists := n.partitions[key]; exists {
		return dirserrors.Newf(dirserrors.UnwillingToPerform, "partition already registered for suffix %q", p.Suffix().String())
	}
	n.partitions[key] = p
	n.suffixes = append(n.suffixes, p.Suffix())
	return nil
}

// partitionFor returns the partition whose suffix is the longest ancestor
// of (or exact match for) target. The root DSE (target.Empty()) never
// matches a partition.
func (n *Nexus) partitionFor(target dn.DN) (Partition, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var best dn.DN
	var bestPartition Partition
	found := false
	for _, suffix := range n.suffixes {
		if !suffix.IsAncestorOfOrEqual(target) {
			continue
		}
		if !found || suffix.Len() > best.Len() {
			best = suffix
			found = true
		}
	}
	if !found {
		return nil, dirserrors.NoSuchObjectErr(target.String())
	}
	bestPartition = n.partitions[best.Normalized()]
	return bestPartition, nil
}

// RootDSE synthesizes the root DSE pseudo-entry by aggregating
// namingContexts from every registered partition.
func (n *Nexus) RootDSE() *entry.Entry {
	n.mu.RLock()
	defer n.mu.RUnlock()

	e := entry.New("")
	e.Add("objectClass", "top", "extensibleObject")
	for _, suffix := range n.suffixes {
		e.Add("namingContexts", suffix.String())
	}
	e.Add("supportedLDAPVersion", "3")
	e.Add("subschemaSubentry", "cn=subschema")
	e.Add("vendorName", "dirsrv")
	return e
}

func (n *Nexus) Add(ctx context.Context, e *entry.Entry) error {
	// The entry's DN is already in normalized form by the time it reaches
	// the terminal stage.
	target, err := dn.ParseNormalized(e.DN)
	if err != nil {
		return err
	}
	p, err := n.partitionFor(target)
	if err != nil {
		return err
	}
	ctx, span := telemetry.StartPartitionSpan(ctx, "add", p.Suffix().String())
	defer span.End()
	return p.Add(ctx, e)
}

func (n *Nexus) Lookup(ctx context.Context, target dn.DN, attrs []string) (*entry.Entry, error) {
	if target.Empty() {
		return n.RootDSE(), nil
	}
	p, err := n.partitionFor(target)
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartPartitionSpan(ctx, "lookup", p.Suffix().String())
	defer span.End()
	return p.Lookup(ctx, target, attrs)
}

func (n *Nexus) Delete(ctx context.Context, target dn.DN) error {
	p, err := n.partitionFor(target)
	if err != nil {
		return err
	}
	ctx, span := telemetry.StartPartitionSpan(ctx, "delete", p.Suffix().String())
	defer span.End()
	return p.Delete(ctx, target)
}

func (n *Nexus) Modify(ctx context.Context, target dn.DN, mods []opctx.Modification) error {
	p, err := n.partitionFor(target)
	if err != nil {
		return err
	}
	ctx, span := telemetry.StartPartitionSpan(ctx, "modify", p.Suffix().String())
	defer span.End()
	return p.Modify(ctx, target, mods)
}

func (n *Nexus) Rename(ctx context.Context, target dn.DN, newRDN string, deleteOldRDN bool) error {
	p, err := n.partitionFor(target)
	if err != nil {
		return err
	}
	ctx, span := telemetry.StartPartitionSpan(ctx, "rename", p.Suffix().String())
	defer span.End()
	return p.Rename(ctx, target, newRDN, deleteOldRDN)
}

// Move relocates target under newParent. It fails with AffectsMultipleDSAs
// if the two DNs belong to different partitions; a move within one
// partition is the partition's concern.
func (n *Nexus) Move(ctx context.Context, target dn.DN, newParent dn.DN) error {
	p, err := n.partitionFor(target)
	if err != nil {
		return err
	}
	destPartition, err := n.partitionFor(newParent)
	if err != nil {
		return err
	}
	if destPartition.Suffix().Normalized() != p.Suffix().Normalized() {
		return dirserrors.Newf(dirserrors.AffectsMultipleDSAs, "move of %q to %q crosses partition boundary", target.String(), newParent.String())
	}
	ctx, span := telemetry.StartPartitionSpan(ctx, "move", p.Suffix().String())
	defer span.End()
	return p.Move(ctx, target, newParent)
}

func (n *Nexus) MoveAndRename(ctx context.Context, target dn.DN, newParent dn.DN, newRDN string, deleteOldRDN bool) error {
	p, err := n.partitionFor(target)
	if err != nil {
		return err
	}
	destPartition, err := n.partitionFor(newParent)
	if err != nil {
		return err
	}
	if destPartition.Suffix().Normalized() != p.Suffix().Normalized() {
		return dirserrors.Newf(dirserrors.AffectsMultipleDSAs, "moveAndRename of %q to %q crosses partition boundary", target.String(), newParent.String())
	}
	ctx, span := telemetry.StartPartitionSpan(ctx, "moveAndRename", p.Suffix().String())
	defer span.End()
	return p.MoveAndRename(ctx, target, newParent, newRDN, deleteOldRDN)
}

func (n *Nexus) Search(ctx context.Context, base dn.DN, scope opctx.Scope, filter string, sizeLimit int) (cursor.Cursor, error) {
	if base.Empty() {
		return cursor.FromSlice([]*entry.Entry{n.RootDSE()}), nil
	}
	p, err := n.partitionFor(base)
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartPartitionSpan(ctx, "search", p.Suffix().String())
	defer span.End()
	return p.Search(ctx, base, scope, filter, sizeLimit)
}

func (n *Nexus) HasEntry(ctx context.Context, target dn.DN) (bool, error) {
	p, err := n.partitionFor(target)
	if err != nil {
		if dirserrors.CodeOf(err) == dirserrors.NoSuchObject {
			return false, nil
		}
		return false, err
	}
	return p.HasEntry(ctx, target)
}

// LookupTerminal adapts Nexus.Lookup to the interceptor package's
// LookupFunc shape so it can be passed directly as a chain's terminal.
func (n *Nexus) LookupTerminal(ctx context.Context, op *opctx.LookupContext) (*entry.Entry, error) {
	return n.Lookup(ctx, op.Target, op.Attributes)
}

// AddTerminal adapts Nexus.Add to the interceptor package's AddFunc shape.
func (n *Nexus) AddTerminal(ctx context.Context, op *opctx.AddContext) error {
	return n.Add(ctx, op.Entry)
}

// DeleteTerminal adapts Nexus.Delete to the interceptor package's
// DeleteFunc shape.
func (n *Nexus) DeleteTerminal(ctx context.Context, op *opctx.DeleteContext) error {
	return n.Delete(ctx, op.Target)
}

// ModifyTerminal adapts Nexus.Modify to the interceptor package's
// ModifyFunc shape.
func (n *Nexus) ModifyTerminal(ctx context.Context, op *opctx.ModifyContext) error {
	return n.Modify(ctx, op.Target, op.Mods)
}

// ModifyDNTerminal adapts Nexus.Rename/Move/MoveAndRename to the
// interceptor package's ModifyDNFunc shape, dispatching on which fields
// of the context are set.
func (n *Nexus) ModifyDNTerminal(ctx context.Context, op *opctx.ModifyDNContext) error {
	switch {
	case op.NewSuperior != nil && op.NewRDN != "":
		return n.MoveAndRename(ctx, op.Target, *op.NewSuperior, op.NewRDN, op.DeleteOldRDN)
	case op.NewSuperior != nil:
		return n.Move(ctx, op.Target, *op.NewSuperior)
	default:
		return n.Rename(ctx, op.Target, op.NewRDN, op.DeleteOldRDN)
	}
}

// SearchTerminal adapts Nexus.Search to the interceptor package's
// SearchFunc shape.
func (n *Nexus) SearchTerminal(ctx context.Context, op *opctx.SearchContext) (cursor.Cursor, error) {
	return n.Search(ctx, op.Target, op.Scope, op.Filter, op.SizeLimit)
}

// CompareTerminal adapts a compare operation to a lookup followed by an
// exact, case-insensitive value match. No matching rule is applied: the
// schema stage earlier in the chain only checks that the attribute type is
// known, and the value reaches the nexus as the caller sent it.
func (n *Nexus) CompareTerminal(ctx context.Context, op *opctx.CompareContext) (bool, error) {
	e, err := n.Lookup(ctx, op.Target, nil)
	if err != nil {
		return false, err
	}
	attr, ok := e.Get(op.AttributeType)
	if !ok {
		return false, nil
	}
	return attr.Contains(op.Value, strings.EqualFold), nil
}

// Package memory implements an in-memory Partition: a map keyed by
// normalized DN with a per-parent child index, guarded by a read-write
// mutex. It is the reference backend the core's tests run against and the
// default for ephemeral deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/filter"
	"dirsrv/pkg/metrics"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/partition"
	"dirsrv/pkg/schema"
)

// Partition is an in-memory subtree store rooted at a suffix DN.
type Partition struct {
	suffix dn.DN
	schema *schema.Schema
	m      *metrics.DirectoryMetrics

	mu       sync.RWMutex
	entries  map[string]*entry.Entry        // normalized DN -> stored entry
	children map[string]map[string]struct{} // parent normalized DN -> child normalized DNs
}

// New creates an empty partition serving suffix.
func New(suffix dn.DN, s *schema.Schema, m *metrics.DirectoryMetrics) *Partition {
	return &Partition{
		suffix:   suffix,
		schema:   s,
		m:        m,
		entries:  make(map[string]*entry.Entry),
		children: make(map[string]map[string]struct{}),
	}
}

// Suffix returns the normalized suffix DN this partition serves.
func (p *Partition) Suffix() dn.DN { return p.suffix }

func (p *Partition) Add(ctx context.Context, e *entry.Entry) error {
	p.m.RecordPartitionOp("memory", "add")
	p.mu.Lock()
	defer p.mu.Unlock()

	key := e.DN
	if _, exists := p.entries[key]; exists {
		return dirserrors.AlreadyExistsErr(key)
	}
	parent, err := partition.ParentOf(key)
	if err != nil {
		return err
	}
	if key != p.suffix.Normalized() {
		if _, ok := p.entries[parent]; !ok {
			return dirserrors.NoSuchObjectErr(parent)
		}
	}
	p.entries[key] = e.Clone()
	p.link(parent, key)
	return nil
}

func (p *Partition) Lookup(ctx context.Context, target dn.DN, attrs []string) (*entry.Entry, error) {
	p.m.RecordPartitionOp("memory", "lookup")
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[target.Normalized()]
	if !ok {
		return nil, dirserrors.NoSuchObjectErr(target.String())
	}
	return partition.Project(e, attrs), nil
}

func (p *Partition) Delete(ctx context.Context, target dn.DN) error {
	p.m.RecordPartitionOp("memory", "delete")
	p.mu.Lock()
	defer p.mu.Unlock()

	key := target.Normalized()
	if _, ok := p.entries[key]; !ok {
		return dirserrors.NoSuchObjectErr(target.String())
	}
	if len(p.children[key]) > 0 {
		return dirserrors.Newf(dirserrors.UnwillingToPerform, "entry %q has subordinates", target.String())
	}
	delete(p.entries, key)
	delete(p.children, key)
	parent, _ := partition.ParentOf(key)
	p.unlink(parent, key)
	return nil
}

func (p *Partition) Modify(ctx context.Context, target dn.DN, mods []opctx.Modification) error {
	p.m.RecordPartitionOp("memory", "modify")
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[target.Normalized()]
	if !ok {
		return dirserrors.NoSuchObjectErr(target.String())
	}
	partition.ApplyMods(e, mods, p.schema)
	return nil
}

func (p *Partition) Rename(ctx context.Context, target dn.DN, newRDN string, deleteOldRDN bool) error {
	p.m.RecordPartitionOp("memory", "rename")
	parent, ok := target.Parent()
	if !ok {
		return dirserrors.New(dirserrors.UnwillingToPerform, "cannot rename the root DSE")
	}
	return p.relocate(target, parent, newRDN, deleteOldRDN)
}

func (p *Partition) Move(ctx context.Context, target dn.DN, newParent dn.DN) error {
	p.m.RecordPartitionOp("memory", "move")
	return p.relocate(target, newParent, "", false)
}

func (p *Partition) MoveAndRename(ctx context.Context, target dn.DN, newParent dn.DN, newRDN string, deleteOldRDN bool) error {
	p.m.RecordPartitionOp("memory", "moveAndRename")
	return p.relocate(target, newParent, newRDN, deleteOldRDN)
}

// relocate implements rename, move, and moveAndRename in one pass: the
// target entry and its whole subtree are rekeyed under the new DN, and the
// naming attribute values are reconciled with the new RDN.
func (p *Partition) relocate(target dn.DN, newParent dn.DN, newRDN string, deleteOldRDN bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	oldKey := target.Normalized()
	e, ok := p.entries[oldKey]
	if !ok {
		return dirserrors.NoSuchObjectErr(target.String())
	}
	if newParent.Normalized() != p.suffix.Normalized() {
		if _, ok := p.entries[newParent.Normalized()]; !ok {
			return dirserrors.NoSuchObjectErr(newParent.String())
		}
	}

	leading := target.Leading(1)
	oldRDN := target.RDN()
	if newRDN != "" {
		parsed, err := dn.Parse(newRDN, p.schema.CanonicalName, p.schema.NormalizeValue)
		if err != nil {
			return err
		}
		if parsed.Len() != 1 {
			return dirserrors.Newf(dirserrors.NamingViolation, "new RDN %q must be a single RDN", newRDN)
		}
		leading = parsed
	}
	newDN := dn.Join(leading, newParent)
	newKey := newDN.Normalized()
	if newKey == oldKey {
		return nil
	}
	if _, exists := p.entries[newKey]; exists {
		return dirserrors.AlreadyExistsErr(newDN.String())
	}

	// Rekey the target and every descendant. Collect first: map iteration
	// order is undefined and we are mutating the map.
	type rekey struct{ from, to string }
	moves := []rekey{{oldKey, newKey}}
	suffixMatch := "," + oldKey
	for k := range p.entries {
		if strings.HasSuffix(k, suffixMatch) {
			moves = append(moves, rekey{k, k[:len(k)-len(oldKey)] + newKey})
		}
	}
	oldParentKey, _ := partition.ParentOf(oldKey)
	p.unlink(oldParentKey, oldKey)
	for _, mv := range moves {
		moved := p.entries[mv.from]
		delete(p.entries, mv.from)
		moved.DN = mv.to
		p.entries[mv.to] = moved
		if kids, ok := p.children[mv.from]; ok {
			delete(p.children, mv.from)
			rekeyed := make(map[string]struct{}, len(kids))
			for kid := range kids {
				rekeyed[kid[:len(kid)-len(oldKey)]+newKey] = struct{}{}
			}
			p.children[mv.to] = rekeyed
		}
	}
	p.link(newParent.Normalized(), newKey)

	// Reconcile naming attributes on the moved entry.
	if newRDN != "" {
		for _, c := range leading.RDN().Components {
			eq := func(a, b string) bool { return p.schema.Equal(c.NormType, a, b) }
			if a, ok := e.Get(c.NormType); !ok || !a.Contains(c.Value, eq) {
				e.Add(c.NormType, c.Value)
			}
		}
		if deleteOldRDN {
			for _, c := range oldRDN.Components {
				eq := func(a, b string) bool { return p.schema.Equal(c.NormType, a, b) }
				e.RemoveValues(c.NormType, eq, c.Value)
			}
		}
	}
	return nil
}

func (p *Partition) Search(ctx context.Context, base dn.DN, scope opctx.Scope, filterStr string, sizeLimit int) (cursor.Cursor, error) {
	p.m.RecordPartitionOp("memory", "search")

	var node *filter.Node
	if filterStr != "" {
		var err error
		node, err = filter.Parse(filterStr)
		if err != nil {
			return nil, err
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	baseKey := base.Normalized()
	if _, ok := p.entries[baseKey]; !ok {
		return nil, dirserrors.NoSuchObjectErr(base.String())
	}

	var keys []string
	switch scope {
	case opctx.ScopeBaseObject:
		keys = []string{baseKey}
	case opctx.ScopeSingleLevel:
		for kid := range p.children[baseKey] {
			keys = append(keys, kid)
		}
	default: // ScopeSubtree
		keys = append(keys, baseKey)
		suffixMatch := "," + baseKey
		for k := range p.entries {
			if strings.HasSuffix(k, suffixMatch) {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	var hits []*entry.Entry
	for _, k := range keys {
		e := p.entries[k]
		if node != nil && !filter.Matches(node, e, p.schema) {
			continue
		}
		hits = append(hits, e.Clone())
		if sizeLimit > 0 && len(hits) >= sizeLimit {
			break
		}
	}
	p.m.RecordCursorOpened()
	return cursor.FromSlice(hits), nil
}

func (p *Partition) HasEntry(ctx context.Context, target dn.DN) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[target.Normalized()]
	return ok, nil
}

func (p *Partition) link(parent, child string) {
	kids, ok := p.children[parent]
	if !ok {
		kids = make(map[string]struct{})
		p.children[parent] = kids
	}
	kids[child] = struct{}{}
}

func (p *Partition) unlink(parent, child string) {
	if kids, ok := p.children[parent]; ok {
		delete(kids, child)
		if len(kids) == 0 {
			delete(p.children, parent)
		}
	}
}

// Package badgerpart implements a Partition backed by BadgerDB, the
// embedded persistent KV store. Entries are gob-encoded under a DN-keyed
// namespace with a secondary child index for one-level enumeration.
//
// Key Namespace Prefixes:
//
// Data Type        Prefix  Key Format                       Value Type
// =====================================================================
// Entry            "e:"    e:<normalizedDN>                 Entry (gob)
// Children Index   "c:"    c:<parentDN>\x00<childDN>        empty
package badgerpart

import (
	"context"
	"sort"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

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

const (
	prefixEntry = "e:"
	prefixChild = "c:"
	childSep    = "\x00"
)

// Partition is a BadgerDB-backed subtree store.
type Partition struct {
	suffix dn.DN
	schema *schema.Schema
	m      *metrics.DirectoryMetrics
	db     *badgerdb.DB
}

// Open opens (or creates) the store at dir.
func Open(dir string, suffix dn.DN, s *schema.Schema, m *metrics.DirectoryMetrics) (*Partition, error) {
	opts := badgerdb.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "opening badger store")
	}
	return &Partition{suffix: suffix, schema: s, m: m, db: db}, nil
}

// Close flushes and closes the underlying store.
func (p *Partition) Close() error { return p.db.Close() }

// Suffix returns the normalized suffix DN this partition serves.
func (p *Partition) Suffix() dn.DN { return p.suffix }

func keyEntry(normDN string) []byte { return []byte(prefixEntry + normDN) }

func keyChild(parent, child string) []byte {
	return []byte(prefixChild + parent + childSep + child)
}

func (p *Partition) Add(ctx context.Context, e *entry.Entry) error {
	p.m.RecordPartitionOp("badger", "add")
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Update(func(txn *badgerdb.Txn) error {
		key := e.DN
		if _, err := txn.Get(keyEntry(key)); err == nil {
			return dirserrors.AlreadyExistsErr(key)
		} else if err != badgerdb.ErrKeyNotFound {
			return dirserrors.Wrap(dirserrors.Other, err, "checking for existing entry")
		}

		parent, err := partition.ParentOf(key)
		if err != nil {
			return err
		}
		if key != p.suffix.Normalized() {
			if _, err := txn.Get(keyEntry(parent)); err == badgerdb.ErrKeyNotFound {
				return dirserrors.NoSuchObjectErr(parent)
			} else if err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "checking parent entry")
			}
		}

		data, err := e.MarshalBinary()
		if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "encoding entry")
		}
		if err := txn.Set(keyEntry(key), data); err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "storing entry")
		}
		return txn.Set(keyChild(parent, key), nil)
	})
}

func (p *Partition) Lookup(ctx context.Context, target dn.DN, attrs []string) (*entry.Entry, error) {
	p.m.RecordPartitionOp("badger", "lookup")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var e *entry.Entry
	err := p.db.View(func(txn *badgerdb.Txn) error {
		var err error
		e, err = getEntry(txn, target.Normalized())
		return err
	})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, dirserrors.NoSuchObjectErr(target.String())
	}
	return partition.Project(e, attrs), nil
}

func (p *Partition) Delete(ctx context.Context, target dn.DN) error {
	p.m.RecordPartitionOp("badger", "delete")
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Update(func(txn *badgerdb.Txn) error {
		key := target.Normalized()
		if _, err := txn.Get(keyEntry(key)); err == badgerdb.ErrKeyNotFound {
			return dirserrors.NoSuchObjectErr(target.String())
		} else if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "reading entry")
		}
		if hasChildren(txn, key) {
			return dirserrors.Newf(dirserrors.UnwillingToPerform, "entry %q has subordinates", target.String())
		}
		parent, err := partition.ParentOf(key)
		if err != nil {
			return err
		}
		if err := txn.Delete(keyEntry(key)); err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "deleting entry")
		}
		return txn.Delete(keyChild(parent, key))
	})
}

func (p *Partition) Modify(ctx context.Context, target dn.DN, mods []opctx.Modification) error {
	p.m.RecordPartitionOp("badger", "modify")
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Update(func(txn *badgerdb.Txn) error {
		e, err := getEntry(txn, target.Normalized())
		if err != nil {
			return err
		}
		if e == nil {
			return dirserrors.NoSuchObjectErr(target.String())
		}
		partition.ApplyMods(e, mods, p.schema)
		data, err := e.MarshalBinary()
		if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "encoding entry")
		}
		return txn.Set(keyEntry(e.DN), data)
	})
}

func (p *Partition) Rename(ctx context.Context, target dn.DN, newRDN string, deleteOldRDN bool) error {
	p.m.RecordPartitionOp("badger", "rename")
	parent, ok := target.Parent()
	if !ok {
		return dirserrors.New(dirserrors.UnwillingToPerform, "cannot rename the root DSE")
	}
	return p.relocate(ctx, target, parent, newRDN, deleteOldRDN)
}

func (p *Partition) Move(ctx context.Context, target dn.DN, newParent dn.DN) error {
	p.m.RecordPartitionOp("badger", "move")
	return p.relocate(ctx, target, newParent, "", false)
}

func (p *Partition) MoveAndRename(ctx context.Context, target dn.DN, newParent dn.DN, newRDN string, deleteOldRDN bool) error {
	p.m.RecordPartitionOp("badger", "moveAndRename")
	return p.relocate(ctx, target, newParent, newRDN, deleteOldRDN)
}

func (p *Partition) relocate(ctx context.Context, target, newParent dn.DN, newRDN string, deleteOldRDN bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Update(func(txn *badgerdb.Txn) error {
		oldKey := target.Normalized()
		e, err := getEntry(txn, oldKey)
		if err != nil {
			return err
		}
		if e == nil {
			return dirserrors.NoSuchObjectErr(target.String())
		}
		if newParent.Normalized() != p.suffix.Normalized() {
			if parentEntry, err := getEntry(txn, newParent.Normalized()); err != nil {
				return err
			} else if parentEntry == nil {
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
		if existing, err := getEntry(txn, newKey); err != nil {
			return err
		} else if existing != nil {
			return dirserrors.AlreadyExistsErr(newDN.String())
		}

		// Collect the subtree, then rewrite every key in one transaction.
		subtree, err := collectSubtree(txn, oldKey)
		if err != nil {
			return err
		}
		oldParentKey, err := partition.ParentOf(oldKey)
		if err != nil {
			return err
		}

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
			data, err := e.MarshalBinary()
			if err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "encoding entry")
			}
			subtree[0].data = data
		}

		if err := txn.Delete(keyChild(oldParentKey, oldKey)); err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "unlinking entry")
		}
		for _, node := range subtree {
			moved := node.key[:len(node.key)-len(oldKey)] + newKey
			if err := txn.Delete(keyEntry(node.key)); err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "deleting old key")
			}
			rewritten, err := rewriteDN(node.data, moved)
			if err != nil {
				return err
			}
			if err := txn.Set(keyEntry(moved), rewritten); err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "storing moved entry")
			}
			movedParent, err := partition.ParentOf(moved)
			if err != nil {
				return err
			}
			if node.key != oldKey {
				oldNodeParent, err := partition.ParentOf(node.key)
				if err != nil {
					return err
				}
				if err := txn.Delete(keyChild(oldNodeParent, node.key)); err != nil {
					return dirserrors.Wrap(dirserrors.Other, err, "unlinking moved child")
				}
			}
			if err := txn.Set(keyChild(movedParent, moved), nil); err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "linking moved entry")
			}
		}
		return nil
	})
}

func (p *Partition) Search(ctx context.Context, base dn.DN, scope opctx.Scope, filterStr string, sizeLimit int) (cursor.Cursor, error) {
	p.m.RecordPartitionOp("badger", "search")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var node *filter.Node
	if filterStr != "" {
		var err error
		node, err = filter.Parse(filterStr)
		if err != nil {
			return nil, err
		}
	}

	var hits []*entry.Entry
	err := p.db.View(func(txn *badgerdb.Txn) error {
		baseKey := base.Normalized()
		baseEntry, err := getEntry(txn, baseKey)
		if err != nil {
			return err
		}
		if baseEntry == nil {
			return dirserrors.NoSuchObjectErr(base.String())
		}

		var candidates []*entry.Entry
		switch scope {
		case opctx.ScopeBaseObject:
			candidates = []*entry.Entry{baseEntry}
		case opctx.ScopeSingleLevel:
			candidates, err = childEntries(txn, baseKey)
			if err != nil {
				return err
			}
		default: // ScopeSubtree
			subtree, err := collectSubtree(txn, baseKey)
			if err != nil {
				return err
			}
			for _, nodeItem := range subtree {
				e := &entry.Entry{}
				if err := e.UnmarshalBinary(nodeItem.data); err != nil {
					return dirserrors.Wrap(dirserrors.Other, err, "decoding entry")
				}
				candidates = append(candidates, e)
			}
		}

		sort.Slice(candidates, func(i, j int) bool { return candidates[i].DN < candidates[j].DN })
		for _, e := range candidates {
			if node != nil && !filter.Matches(node, e, p.schema) {
				continue
			}
			hits = append(hits, e)
			if sizeLimit > 0 && len(hits) >= sizeLimit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.m.RecordCursorOpened()
	return cursor.FromSlice(hits), nil
}

func (p *Partition) HasEntry(ctx context.Context, target dn.DN) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := p.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keyEntry(target.Normalized()))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "reading entry")
		}
		found = true
		return nil
	})
	return found, err
}

type subtreeNode struct {
	key  string
	data []byte
}

// collectSubtree returns the entry at root plus every descendant, root
// first, by scanning the entry namespace for keys carrying root as a DN
// suffix.
func collectSubtree(txn *badgerdb.Txn, root string) ([]subtreeNode, error) {
	var out []subtreeNode
	suffixMatch := "," + root

	it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
	defer it.Close()
	prefix := []byte(prefixEntry)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := string(item.Key()[len(prefixEntry):])
		if key != root && !strings.HasSuffix(key, suffixMatch) {
			continue
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return nil, dirserrors.Wrap(dirserrors.Other, err, "reading entry value")
		}
		if key == root {
			out = append([]subtreeNode{{key: key, data: data}}, out...)
		} else {
			out = append(out, subtreeNode{key: key, data: data})
		}
	}
	return out, nil
}

func childEntries(txn *badgerdb.Txn, parent string) ([]*entry.Entry, error) {
	var out []*entry.Entry
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	prefix := []byte(prefixChild + parent + childSep)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		child := string(it.Item().Key()[len(prefix):])
		e, err := getEntry(txn, child)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func hasChildren(txn *badgerdb.Txn, parent string) bool {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	prefix := []byte(prefixChild + parent + childSep)
	it.Seek(prefix)
	return it.ValidForPrefix(prefix)
}

// getEntry returns the decoded entry at normDN, or nil if absent.
func getEntry(txn *badgerdb.Txn, normDN string) (*entry.Entry, error) {
	item, err := txn.Get(keyEntry(normDN))
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "reading entry")
	}
	var e entry.Entry
	err = item.Value(func(val []byte) error { return e.UnmarshalBinary(val) })
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "decoding entry")
	}
	return &e, nil
}

// rewriteDN re-encodes a stored entry under its post-relocation DN.
func rewriteDN(data []byte, newDN string) ([]byte, error) {
	var e entry.Entry
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "decoding entry")
	}
	e.DN = newDN
	out, err := e.MarshalBinary()
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "encoding entry")
	}
	return out, nil
}

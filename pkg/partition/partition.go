// Package partition defines the storage-backend contract every concrete
// backend (memory, badger, postgres) implements, and the nexus that routes
// an operation to the partition owning its target DN by longest matching
// suffix.
package partition

import (
	"context"

	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
)

// Partition is a storage backend responsible for a contiguous subtree
// rooted at Suffix. All DNs passed to its methods are already normalized
// by the schema stage earlier in the chain.
type Partition interface {
	// Suffix returns the normalized suffix DN this partition serves.
	Suffix() dn.DN

	Add(ctx context.Context, e *entry.Entry) error
	Lookup(ctx context.Context, target dn.DN, attrs []string) (*entry.Entry, error)
	Delete(ctx context.Context, target dn.DN) error
	Modify(ctx context.Context, target dn.DN, mods []opctx.Modification) error
	Rename(ctx context.Context, target dn.DN, newRDN string, deleteOldRDN bool) error
	Move(ctx context.Context, target dn.DN, newParent dn.DN) error
	MoveAndRename(ctx context.Context, target dn.DN, newParent dn.DN, newRDN string, deleteOldRDN bool) error
	Search(ctx context.Context, base dn.DN, scope opctx.Scope, filter string, sizeLimit int) (cursor.Cursor, error)
	HasEntry(ctx context.Context, target dn.DN) (bool, error)
}

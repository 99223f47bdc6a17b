// Package changelog implements the single-writer append-only record of
// mutations: every commit that changes directory state also records the
// reverse operation needed to undo it, so a caller can revert the
// directory to an earlier revision.
package changelog

import (
	"context"
	"sync"
	"time"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
)

// Kind identifies the mutation an Entry records.
type Kind int

const (
	Add Kind = iota + 1
	Delete
	Modify
	Rename
	Move
	MoveAndRename
)

// ModOp is one attribute-level change within a Modify operation.
type ModOp int

const (
	ModAdd ModOp = iota + 1
	ModDelete
	ModReplace
)

// Mod is a single attribute modification, forward or inverse.
type Mod struct {
	Op     ModOp
	Type   string
	Values []string
}

// ReverseOp carries everything needed to undo one logged mutation by
// re-entering the interceptor chain with BYPASS_ALL.
type ReverseOp struct {
	Kind Kind

	// DN is the distinguished name the reverse operation targets: the
	// entry's DN as it exists after the forward op committed.
	DN string

	// Entry is the full pre-delete snapshot, replayed as an add to undo a
	// Delete.
	Entry *entry.Entry

	// Mods is the inverse modification list, replayed to undo a Modify.
	Mods []Mod

	// NewParent, NewRDN, DeleteOldRDN describe the reverse placement for
	// Rename, Move, and MoveAndRename: the DN and RDN the entry had
	// before the forward op moved or renamed it.
	NewParent    string
	NewRDN       string
	DeleteOldRDN bool
}

// Entry is one record in the log.
type Entry struct {
	Revision  uint64
	Timestamp time.Time
	DN        string
	Kind      Kind
	SessionID string
	Reverse   ReverseOp
}

// Applier replays a single log entry's reverse operation back through the
// pipeline. The directory service supplies the concrete implementation;
// this package only sequences the replay.
type Applier func(ctx context.Context, e Entry) error

// Log is a single-writer, monotonically increasing append log.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	revision uint64
}

// New returns an empty change log starting at revision 0.
func New() *Log {
	return &Log{}
}

// CurrentRevision returns the revision of the most recently appended entry,
// or 0 if the log is empty.
func (l *Log) CurrentRevision() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.revision
}

// Append records a committed mutation and its reverse, returning the
// revision assigned to it. Callers append under the same lock section that
// commits the mutation to the partition, so the log's revision order
// matches commit order.
func (l *Log) Append(dn string, kind Kind, sessionID string, reverse ReverseOp, now time.Time) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revision++
	l.entries = append(l.entries, Entry{
		Revision:  l.revision,
		Timestamp: now,
		DN:        dn,
		Kind:      kind,
		SessionID: sessionID,
		Reverse:   reverse,
	})
	return l.revision
}

// Entries returns a copy of the log entries with revision in (from, to],
// head-first (most recent first) — the order Revert replays them in.
func (l *Log) Entries(from, to uint64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Revision <= from {
			break
		}
		if e.Revision > to {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Revert replays reverse-ops from the current head down to toRevision+1,
// most recent first, via apply. It fails with Unrevertable and leaves the
// log unchanged if toRevision is ahead of the current head, or if apply
// fails partway through — a partial revert is not permitted to be silently
// accepted as a new, shorter history.
func (l *Log) Revert(ctx context.Context, toRevision uint64, apply Applier) error {
	l.mu.Lock()
	head := l.revision
	if toRevision > head {
		l.mu.Unlock()
		return dirserrors.New(dirserrors.Unrevertable, "target revision is ahead of current revision")
	}
	toReplay := make([]Entry, 0, int(head-toRevision))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Revision <= toRevision {
			break
		}
		toReplay = append(toReplay, e)
	}
	l.mu.Unlock()

	for _, e := range toReplay {
		if err := apply(ctx, e); err != nil {
			return dirserrors.Wrap(dirserrors.Unrevertable, err,
				"revert stopped partway through the log; directory state reflects a partial replay")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Drop only the entries actually replayed; a concurrent Append
	// that raced past our snapshot is preserved.
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Revision <= toRevision || e.Revision > head {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	if l.revision == head {
		l.revision = toRevision
	}
	return nil
}

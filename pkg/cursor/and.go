package cursor

import (
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
)

// Evaluator tests a single entry against one branch of an And composition
// without materializing that branch's full candidate set.
type Evaluator func(e *entry.Entry) (bool, error)

// Branch is one operand of an And cursor: a cursor over its candidate set,
// an estimate of that set's size (from an index, when available), and an
// evaluator usable against entries produced by a different branch's
// cursor. Count of -1 means unknown; unknown-sized branches are treated as
// the most expensive and never chosen as the driver unless every branch is
// unknown. Cursor may be nil for an evaluator-only branch; such a branch is
// never chosen as the driver.
type Branch struct {
	Cursor Cursor
	Count  int
	Eval   Evaluator
}

// And returns a cursor over entries present in every branch. It chooses
// the branch with the smallest candidate-set count as the driver, iterates
// that cursor to completion, and keeps only the entries every other
// branch's evaluator accepts. This is a join-ordering decision: a smaller
// driver means fewer evaluator calls, not a different result set.
func And(branches []Branch) (Cursor, error) {
	if len(branches) == 0 {
		return FromSlice(nil), nil
	}
	driverIdx := -1
	best := 0
	for i, b := range branches {
		if b.Cursor == nil {
			continue
		}
		c := b.Count
		if driverIdx < 0 || best < 0 || (c >= 0 && c < best) {
			driverIdx = i
			best = c
		}
	}
	if driverIdx < 0 {
		return nil, dirserrors.New(dirserrors.Other, "and: no branch has a cursor to drive the intersection")
	}

	// Every branch cursor is consumed (or abandoned) here; the returned
	// cursor is fully materialized and owns no branch resources.
	defer func() {
		for _, b := range branches {
			if b.Cursor != nil {
				_ = b.Cursor.Close()
			}
		}
	}()
	driver := branches[driverIdx].Cursor

	var kept []*entry.Entry
	if err := driver.BeforeFirst(); err != nil {
		return nil, err
	}
	for {
		ok, err := driver.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		e, err := driver.Get()
		if err != nil {
			return nil, err
		}

		matched := true
		for i, b := range branches {
			if i == driverIdx {
				continue
			}
			ok, err := b.Eval(e)
			if err != nil {
				return nil, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			kept = append(kept, e)
		}
	}
	return FromSlice(kept), nil
}
